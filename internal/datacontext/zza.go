package datacontext

import (
	"github.com/smallbiznis/zza/internal/mapping"
	"github.com/smallbiznis/zza/internal/model"
)

// ContextName is the connection entry resolved unless WithConnectionName says
// otherwise.
const ContextName = "ZzaContext"

// BuildModel maps the Zza entities. Customer keys are assigned by the caller;
// Order keys come from the store. No relationship cascades deletes.
func BuildModel(opts ...mapping.Option) (*mapping.Model, error) {
	return mapping.Init(append([]mapping.Option{
		mapping.Register(&model.Customer{}, mapping.KeyNotGenerated()),
		mapping.Register(&model.Order{}),
	}, opts...)...)
}

func (c *Context) Customers() *Set[model.Customer] {
	return SetOf[model.Customer](c)
}

func (c *Context) Orders() *Set[model.Order] {
	return SetOf[model.Order](c)
}
