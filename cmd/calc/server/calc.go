package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/astromechza/fieldsync/pkg/pageserver"
	"github.com/astromechza/fieldsync/pkg/update"
)

var errDivideByZero = errors.New("division by zero")

// calculator is the demo application: two operands, an operator and a progress bar that
// cycles on its own.
type calculator struct {
	root      *pageserver.Group
	numberA   *pageserver.Var
	numberB   *pageserver.Var
	operation *pageserver.Var
	targetOps int
	started   time.Time
	now       func() time.Time
}

func newCalculator(targetOps int, now func() time.Time) *calculator {
	ops := pageserver.Choices{Display: []string{"add", "subtract", "multiply", "divide"}}
	c := &calculator{root: pageserver.NewGroup(), targetOps: targetOps, now: now, started: now()}
	c.numberA = c.root.Add("number_A", pageserver.NewVar(0.0))
	c.numberB = c.root.Add("number_B", pageserver.NewVar(0.0))
	c.operation = c.root.Add("operation", pageserver.NewVar("add", pageserver.WithChoices(ops)))
	return c
}

func (c *calculator) answer() (float64, error) {
	a, b := c.numberA.Float(), c.numberB.Float()
	switch op := c.operation.String(); op {
	case "add":
		return a + b, nil
	case "subtract":
		return a - b, nil
	case "multiply":
		return a * b, nil
	case "divide":
		if b == 0 {
			return 0, errDivideByZero
		}
		return a / b, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", op)
	}
}

func (c *calculator) doSum(_ context.Context, origin string) (update.Batch, error) {
	var text string
	result, err := c.answer()
	switch {
	case errors.Is(err, errDivideByZero):
		text = "Division by zero!"
	case err != nil:
		text = "calculator meltdown"
	case result == math.Trunc(result) && math.Abs(result) < 1e15:
		text = fmt.Sprintf("%d", int64(result))
	default:
		text = fmt.Sprintf("%5.2f", result)
	}
	return update.NewBatch(
		update.Set("answer", update.Attrs(update.SetValue(text))),
		update.Set(origin, update.Attrs(update.SetDisabled(false))),
	), nil
}

// currentOps simulates progress through targetOps steps, one per second, wrapping around.
func (c *calculator) currentOps() int {
	elapsed := int(math.Round(c.now().Sub(c.started).Seconds()))
	return elapsed % (c.targetOps + 1)
}

func (c *calculator) indexUpdates() []update.Entry {
	return []update.Entry{
		update.Set("prog_bar", update.Attrs(update.SetValue(fmt.Sprint(c.currentOps())))),
		update.Set("operation", update.Attrs(update.SetValue(c.operation.String()))),
	}
}

func (c *calculator) register(srv *pageserver.Server) {
	srv.HandleAction("do_sum", c.doSum)
	srv.HandlePage("index", c.indexUpdates)
}
