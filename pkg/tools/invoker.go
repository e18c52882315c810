package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/z1w2r3/suna-sub001/internal/observability"
	"github.com/z1w2r3/suna-sub001/internal/tracing"
)

const defaultInvokeTimeout = 30 * time.Second

// Invoker executes normalized calls against the registry.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
}

// NewInvoker creates an Invoker with the default per-call timeout.
func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{
		registry: registry,
		timeout:  defaultInvokeTimeout,
	}
}

// SetTimeout overrides the per-call timeout. Zero disables it.
func (inv *Invoker) SetTimeout(d time.Duration) {
	inv.timeout = d
}

// Invoke executes one call and always returns a Result.
func (inv *Invoker) Invoke(ctx context.Context, call Call) Result {
	startTime := time.Now()

	def, ok := inv.registry.Get(call.FunctionName)
	if !ok {
		nfe := &NotFoundError{Name: call.FunctionName, Available: inv.registry.Names()}
		log.Error().Str("tool", call.FunctionName).Msg("Tool not found")
		observability.RecordToolExecution(call.FunctionName, time.Since(startTime), false)
		return Result{Success: false, Error: nfe.Error()}
	}

	args := NormalizeArguments(call.Arguments)

	if kwargs, isMap := args.(map[string]interface{}); isMap {
		if schema := inv.registry.Schema(call.FunctionName); schema != nil {
			if err := validateArguments(schema, kwargs); err != nil {
				log.Error().Str("tool", call.FunctionName).Err(err).Msg("Parameter validation failed")
				observability.RecordToolExecution(call.FunctionName, time.Since(startTime), false)
				return Result{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
			}
		}
	}

	log.Debug().Str("tool", call.FunctionName).Str("source", string(call.Source)).Msg("Executing tool")

	invokeCtx := ctx
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		output, err := def.Handler(invokeCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- output
		}
	}()

	select {
	case output := <-resultChan:
		duration := time.Since(startTime)
		result := wrapOutput(output)

		log.Debug().
			Str("tool", call.FunctionName).
			Dur("duration", duration).
			Bool("success", result.Success).
			Msg("Tool execution completed")
		inv.recordOutcome(ctx, call, duration, result.Success)

		return result

	case err := <-errChan:
		duration := time.Since(startTime)

		log.Error().
			Str("tool", call.FunctionName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		inv.recordOutcome(ctx, call, duration, false)

		return Result{Success: false, Error: err.Error(), Faulted: true}

	case <-invokeCtx.Done():
		duration := time.Since(startTime)

		log.Error().
			Str("tool", call.FunctionName).
			Dur("duration", duration).
			Msg("Tool execution timeout")
		inv.recordOutcome(ctx, call, duration, false)

		return Result{Success: false, Error: fmt.Sprintf("tool execution aborted: %v", invokeCtx.Err()), Faulted: true}
	}
}

// recordOutcome feeds the metrics and audit trail for one attempted
// execution.
func (inv *Invoker) recordOutcome(ctx context.Context, call Call, duration time.Duration, success bool) {
	observability.RecordToolExecution(call.FunctionName, duration, success)

	status := "success"
	if !success {
		status = "failure"
	}
	observability.RecordToolAudit(ctx, call.FunctionName, tracing.GetThreadID(ctx), status, map[string]interface{}{
		"source":      string(call.Source),
		"duration_ms": duration.Milliseconds(),
	})
}

// wrapOutput applies the Result pass-through rule: handlers may return a
// Result (or *Result) to control success themselves, any other value is a
// successful output.
func wrapOutput(output interface{}) Result {
	switch v := output.(type) {
	case Result:
		return v
	case *Result:
		if v != nil {
			return *v
		}
		return Result{Success: true}
	default:
		return Result{Success: true, Output: output}
	}
}

func validateArguments(schema *gojsonschema.Schema, kwargs map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(kwargs))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, verr := range result.Errors() {
			errs = append(errs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
