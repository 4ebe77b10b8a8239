package shake

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
)

// TreeShake copies the transitive closure of entities reachable from
// src's exports into a fresh module. Source imports pass through under
// their original names; everything unreachable is dropped.
func TreeShake(src *ir.Module) (*ir.Module, error) {
	dst := ir.EmptyModule()
	dst.Parser = src.Parser
	state := NewState(func(_ *ir.Module, module, name string) (*ImportBehavior, error) {
		return Passthrough(module, name), nil
	}, nil)
	c := NewCopier(src, dst, state)
	for _, e := range src.Exports {
		k, err := c.TranslateImport(ir.X2I(e.Kind))
		if err != nil {
			return nil, err
		}
		dst.Exports = append(dst.Exports, ir.Export{Name: e.Name, Kind: ir.I2X(k)})
	}
	for name, data := range src.CustomSections {
		dst.CustomSections[name] = append([]byte(nil), data...)
	}
	Logger().Info("tree-shake complete",
		zap.Int("src_funcs", src.Funcs.Len()),
		zap.Int("dst_funcs", dst.Funcs.Len()),
		zap.Int("exports", len(dst.Exports)))
	return dst, nil
}
