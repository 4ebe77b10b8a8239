package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
)

// OptOptions bundles the knobs of the basic optimization pass.
type OptOptions struct {
	// ConstProp folds pure operators whose arguments are all constants.
	ConstProp bool
	// DCE drops pure instructions with no remaining use.
	DCE bool
}

// DefaultOptOptions enables everything.
func DefaultOptOptions() OptOptions {
	return OptOptions{ConstProp: true, DCE: true}
}

// ValueIsPure reports whether the value can be dropped when unused:
// operators with an empty effect set, projections, and aliases.
// This is the predicate every translator's pruner uses.
func ValueIsPure(v ir.Value, f *ir.FunctionBody) bool {
	d := f.Values.At(v)
	switch d.Kind {
	case ir.DefOperator:
		return d.Op.IsPure()
	case ir.DefPickOutput, ir.DefAlias:
		return true
	default:
		return false
	}
}

// BasicOpt runs alias collapse, constant folding and dead-code
// elimination over the body to a fixed point, using the CFG's
// reachability facts.
func BasicOpt(f *ir.FunctionBody, cfg *ir.CFGInfo, opts OptOptions) {
	for round := 0; ; round++ {
		changed := resolveUses(f, cfg)
		if opts.ConstProp {
			changed = foldConstants(f, cfg) || changed
		}
		if opts.DCE {
			changed = deadCode(f, cfg) || changed
		}
		if !changed {
			Logger().Debug("basic_opt: fixed point", zap.Int("rounds", round+1))
			return
		}
	}
}

// Optimize is the whole-body convenience entry: basic_opt followed by
// empty-block elision.
func Optimize(f *ir.FunctionBody, opts OptOptions) {
	cfg := ir.NewCFGInfo(f)
	BasicOpt(f, cfg, opts)
	EmptyBlocks(f)
}

// OptimizeModule optimizes every function body in the module.
func OptimizeModule(m *ir.Module, opts OptOptions) {
	m.PerFuncBody(func(f *ir.FunctionBody) {
		Optimize(f, opts)
	})
}

// resolveUses rewrites every use through its alias chain.
func resolveUses(f *ir.FunctionBody, cfg *ir.CFGInfo) bool {
	changed := false
	resolve := func(u *ir.Value) {
		r := f.ResolveAndUpdateAlias(*u)
		if r != *u {
			*u = r
			changed = true
		}
	}
	for _, block := range cfg.RPO {
		for _, inst := range f.Blocks.At(block).Insts {
			vd := f.Values.Get(inst)
			switch vd.Kind {
			case ir.DefOperator:
				args := f.ArgPool.Slice(vd.Args)
				for i := range args {
					resolve(&args[i])
				}
			case ir.DefPickOutput:
				vd.UpdateUses(&f.ArgPool, resolve)
				f.Values.Set(inst, vd)
			}
		}
		f.Blocks.At(block).Terminator.UpdateUses(resolve)
	}
	return changed
}

// foldConstants replaces pure integer operators with all-constant
// arguments by their result.
func foldConstants(f *ir.FunctionBody, cfg *ir.CFGInfo) bool {
	changed := false
	for _, block := range cfg.RPO {
		for _, inst := range f.Blocks.At(block).Insts {
			vd := f.Values.Get(inst)
			if vd.Kind != ir.DefOperator || !vd.Op.IsPure() {
				continue
			}
			args := f.ArgPool.Slice(vd.Args)
			consts := make([]uint64, len(args))
			ok := true
			for i, a := range args {
				ad := f.Values.At(f.ResolveAlias(a))
				if ad.Kind != ir.DefOperator {
					ok = false
					break
				}
				switch ad.Op.Kind {
				case ir.OpI32Const, ir.OpI64Const:
					consts[i] = ad.Op.I64
				default:
					ok = false
				}
			}
			if !ok {
				continue
			}
			folded, ok := foldOp(vd.Op, consts)
			if !ok {
				continue
			}
			vd.Op = folded
			vd.Args = ir.ListRef{}
			f.Values.Set(inst, vd)
			changed = true
		}
	}
	return changed
}

// foldOp evaluates one constant-foldable operator. The table is
// deliberately shallow: shifts of the common integer space, enough for
// the cleanups the translators expose.
func foldOp(op ir.Operator, args []uint64) (ir.Operator, bool) {
	i32 := func(v uint32) (ir.Operator, bool) { return ir.I32ConstOp(v), true }
	i64 := func(v uint64) (ir.Operator, bool) { return ir.I64ConstOp(v), true }
	b32 := func(b bool) (ir.Operator, bool) {
		if b {
			return i32(1)
		}
		return i32(0)
	}
	switch op.Kind {
	case ir.OpI32Add:
		return i32(uint32(args[0]) + uint32(args[1]))
	case ir.OpI32Sub:
		return i32(uint32(args[0]) - uint32(args[1]))
	case ir.OpI32Mul:
		return i32(uint32(args[0]) * uint32(args[1]))
	case ir.OpI32And:
		return i32(uint32(args[0]) & uint32(args[1]))
	case ir.OpI32Or:
		return i32(uint32(args[0]) | uint32(args[1]))
	case ir.OpI32Xor:
		return i32(uint32(args[0]) ^ uint32(args[1]))
	case ir.OpI32Shl:
		return i32(uint32(args[0]) << (uint32(args[1]) & 31))
	case ir.OpI32ShrU:
		return i32(uint32(args[0]) >> (uint32(args[1]) & 31))
	case ir.OpI32ShrS:
		return i32(uint32(int32(args[0]) >> (uint32(args[1]) & 31)))
	case ir.OpI32Eqz:
		return b32(uint32(args[0]) == 0)
	case ir.OpI32Eq:
		return b32(uint32(args[0]) == uint32(args[1]))
	case ir.OpI32Ne:
		return b32(uint32(args[0]) != uint32(args[1]))
	case ir.OpI64Add:
		return i64(args[0] + args[1])
	case ir.OpI64Sub:
		return i64(args[0] - args[1])
	case ir.OpI64Mul:
		return i64(args[0] * args[1])
	case ir.OpI64And:
		return i64(args[0] & args[1])
	case ir.OpI64Or:
		return i64(args[0] | args[1])
	case ir.OpI64Xor:
		return i64(args[0] ^ args[1])
	case ir.OpI32WrapI64:
		return i32(uint32(args[0]))
	case ir.OpI64ExtendI32U:
		return i64(uint64(uint32(args[0])))
	case ir.OpI64ExtendI32S:
		return i64(uint64(int64(int32(uint32(args[0])))))
	default:
		return ir.Operator{}, false
	}
}

// deadCode removes pure instructions with no use from reachable
// blocks.
func deadCode(f *ir.FunctionBody, cfg *ir.CFGInfo) bool {
	used := map[ir.Value]struct{}{}
	mark := func(u ir.Value) {
		used[f.ResolveAlias(u)] = struct{}{}
	}
	for _, block := range cfg.RPO {
		def := f.Blocks.At(block)
		for _, inst := range def.Insts {
			f.Values.At(inst).VisitUses(&f.ArgPool, mark)
		}
		def.Terminator.VisitUses(mark)
	}
	changed := false
	for _, block := range cfg.RPO {
		def := f.Blocks.At(block)
		kept := def.Insts[:0]
		for _, inst := range def.Insts {
			_, isUsed := used[inst]
			if !isUsed && ValueIsPure(inst, f) {
				changed = true
				continue
			}
			kept = append(kept, inst)
		}
		def.Insts = kept
	}
	return changed
}
