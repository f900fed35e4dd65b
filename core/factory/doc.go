// Package factory provides the generic registry hems uses to build strategies,
// contracts and metrics sinks from configuration. A module is described by a
// type name and a map of raw settings; its factory decodes the settings with
// Decode and returns the concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[contract.Contract]()
//	_ = reg.Register("tarifbleu", func(conf map[string]any) (contract.Contract, error) {
//	    var c struct{ Price float64 `json:"price"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return contract.NewTarifBleu(c.Price), nil
//	})
//	c, err := reg.Create(factory.ModuleConfig{Type: "TarifBleu", Conf: map[string]any{"price": 0.2}})
package factory
