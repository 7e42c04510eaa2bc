package logger

import "context"

type unitOfWorkKey struct{}

type contextNameKey struct{}

// ContextWithUnitOfWork tags ctx with the id of the unit of work running on it.
func ContextWithUnitOfWork(ctx context.Context, contextName, id string) context.Context {
	if id == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, unitOfWorkKey{}, id)
	if contextName != "" {
		ctx = context.WithValue(ctx, contextNameKey{}, contextName)
	}
	return ctx
}

func UnitOfWorkFromContext(ctx context.Context) string {
	id, _ := ctx.Value(unitOfWorkKey{}).(string)
	return id
}

func ContextNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(contextNameKey{}).(string)
	return name
}
