package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"devpulse/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event_id", cel.StringType),
		cel.Variable("entity_key", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("sequence", cel.UintType),
		cel.Variable("provider", cel.StringType),
		cel.Variable("occurred_at", cel.TimestampType),
		cel.Variable("received_at", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.compileBool(expression)
	return err
}

// Predicate is a compiled boolean rule expression. Safe for concurrent use.
type Predicate struct {
	expression string
	program    cel.Program
}

func (p *Predicate) Expression() string {
	return p.expression
}

func (e *Evaluator) CompilePredicate(expression string) (*Predicate, error) {
	ast, err := e.compileBool(expression)
	if err != nil {
		return nil, err
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Predicate{expression: expression, program: program}, nil
}

func (p *Predicate) Eval(ctx context.Context, event models.CanonicalEvent) (bool, error) {
	result, _, err := p.program.ContextEval(ctx, activation(event))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// EvaluatePredicate compiles and runs expression in one step.
func (e *Evaluator) EvaluatePredicate(ctx context.Context, expression string, event models.CanonicalEvent) (bool, error) {
	p, err := e.CompilePredicate(expression)
	if err != nil {
		return false, err
	}
	return p.Eval(ctx, event)
}

func (e *Evaluator) compileBool(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("rule expression must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// activation exposes the event to expressions. The event type is bound as
// event_type because type is a CEL builtin.
func activation(event models.CanonicalEvent) map[string]interface{} {
	payload := event.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return map[string]interface{}{
		"event_id":    event.EventID,
		"entity_key":  event.EntityKey,
		"event_type":  string(event.Type),
		"sequence":    event.Sequence,
		"provider":    event.Provider,
		"occurred_at": event.OccurredAt,
		"received_at": event.ReceivedAt,
		"payload":     payload,
	}
}
