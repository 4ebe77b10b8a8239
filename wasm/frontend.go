package wasm

import (
	"bytes"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/wasm/internal/binary"
)

// ParseBody expands one encoded function body into SSA. Every control
// join carries blockparams for all locals plus the label's results, so
// the produced IR needs no cross-block local state; basic_opt and
// empty_blocks tighten the result.
func ParseBody(m *ir.Module, sig ir.Signature, code []byte) (*ir.FunctionBody, error) {
	r := binary.NewReader(bytes.NewReader(code))
	f := ir.NewFunctionBody(m, sig)

	// Locals declaration: runs of (count, type).
	declCount, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < declCount; i++ {
		count, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		ty, err := readValType(r)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < count; j++ {
			f.AddLocal(ty)
		}
	}

	p := &bodyParser{m: m, f: f, r: r, bb: f.Entry}
	// Parameters bind to the entry blockparams; other locals start at
	// their zero values, materialized in the entry block.
	for _, param := range f.Blocks.At(f.Entry).Params {
		p.cur = append(p.cur, param.Value)
	}
	for li := f.NParams; li < f.Locals.Len(); li++ {
		ty := f.Locals.Get(ir.Local(li))
		v, err := p.zeroValue(ty)
		if err != nil {
			return nil, err
		}
		p.cur = append(p.cur, v)
	}
	for i, v := range p.cur {
		f.MarkValueAsLocal(v, ir.Local(i))
	}

	// The function-level frame: its join returns.
	ret := p.newJoin(f.Rets)
	p.frames = []frame{{kind: frameBlock, join: ret, arity: len(f.Rets), joinResults: len(f.Rets)}}

	if err := p.run(); err != nil {
		return nil, err
	}
	// Terminate the function join.
	join := f.Blocks.At(ret)
	results := make([]ir.Value, 0, len(f.Rets))
	for _, bp := range join.Params[len(p.cur):] {
		results = append(results, bp.Value)
	}
	f.SetTerminator(ret, ir.ReturnTerm(results))
	return f, nil
}

type frameKind uint8

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
)

type frame struct {
	kind  frameKind
	join  ir.Block // branch target for block/if; end join
	loop  ir.Block // loop header; branch target for loop
	arity int      // values a branch carries (results; loop: params)
	// joinResults is the number of result params the join carries.
	joinResults int
	// if bookkeeping.
	elseBlock ir.Block
	elseSeen  bool
	savedCur  []ir.Value
	savedStk  []ir.Value
	// stack below the frame's params, restored at the join.
	stackBelow []ir.Value
}

type bodyParser struct {
	m      *ir.Module
	f      *ir.FunctionBody
	r      *binary.Reader
	bb     ir.Block
	cur    []ir.Value // current SSA value of each local
	stack  []ir.Value
	frames []frame
	dead   bool
	// deadDepth counts skipped nested structures while dead.
	deadDepth int
}

func (p *bodyParser) push(v ir.Value) { p.stack = append(p.stack, v) }
func (p *bodyParser) pop() (ir.Value, error) {
	if len(p.stack) == 0 {
		return ir.InvalidValue, errors.InvalidData(errors.PhaseDecode, "operand stack underflow")
	}
	v := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return v, nil
}

func (p *bodyParser) popN(n int) ([]ir.Value, error) {
	if len(p.stack) < n {
		return nil, errors.InvalidData(errors.PhaseDecode, "operand stack underflow")
	}
	out := append([]ir.Value(nil), p.stack[len(p.stack)-n:]...)
	p.stack = p.stack[:len(p.stack)-n]
	return out, nil
}

// typeOf returns a stack value's type.
func (p *bodyParser) typeOf(v ir.Value) (ir.Type, bool) {
	return p.f.Values.At(p.f.ResolveAlias(v)).Ty(&p.f.TypePool)
}

// stackTypes materializes the operand type stack for polymorphic
// operator typing.
func (p *bodyParser) stackTypes() []ir.Type {
	out := make([]ir.Type, 0, len(p.stack))
	for _, v := range p.stack {
		ty, _ := p.typeOf(v)
		out = append(out, ty)
	}
	return out
}

func (p *bodyParser) zeroValue(ty ir.Type) (ir.Value, error) {
	var op ir.Operator
	switch ty.Kind {
	case ir.KindI32:
		op = ir.I32ConstOp(0)
	case ir.KindI64:
		op = ir.I64ConstOp(0)
	case ir.KindF32:
		op = ir.F32ConstOp(0)
	case ir.KindF64:
		op = ir.F64ConstOp(0)
	case ir.KindV128:
		op = ir.Operator{Kind: ir.OpV128Const}
	case ir.KindHeap:
		op = ir.Operator{Kind: ir.OpRefNull, Type: ty}
	default:
		return ir.InvalidValue, errors.InvalidData(errors.PhaseDecode, "local of invalid type")
	}
	return p.f.AddOp(p.f.Entry, op, nil, []ir.Type{ty}), nil
}

// newJoin creates a join block with blockparams for every local
// followed by the given result types.
func (p *bodyParser) newJoin(results []ir.Type) ir.Block {
	b := p.f.AddBlock()
	for li := 0; li < p.f.Locals.Len(); li++ {
		p.f.AddBlockParam(b, p.f.Locals.Get(ir.Local(li)))
	}
	for _, ty := range results {
		p.f.AddBlockParam(b, ty)
	}
	return b
}

// branchArgs builds the argument list carried to a join: every local's
// current value plus the top arity stack values.
func (p *bodyParser) branchArgs(arity int) ([]ir.Value, error) {
	if len(p.stack) < arity {
		return nil, errors.InvalidData(errors.PhaseDecode, "branch operand underflow")
	}
	args := append([]ir.Value(nil), p.cur...)
	args = append(args, p.stack[len(p.stack)-arity:]...)
	return args, nil
}

// switchToJoin continues parsing in a join block: locals rebind to its
// leading params and its result params replace the frame's stack top.
func (p *bodyParser) switchToJoin(fr *frame) {
	join := p.f.Blocks.At(fr.join)
	for i := range p.cur {
		p.cur[i] = join.Params[i].Value
	}
	p.stack = append([]ir.Value(nil), fr.stackBelow...)
	for _, bp := range join.Params[len(p.cur):] {
		p.stack = append(p.stack, bp.Value)
	}
	p.bb = fr.join
	p.dead = len(join.Preds) == 0
}

// blockType reads a blocktype: void, a single result, or an indexed
// function type.
func (p *bodyParser) blockType() (params, results []ir.Type, err error) {
	v, err := p.r.ReadS64()
	if err != nil {
		return nil, nil, err
	}
	if v >= 0 {
		data := p.m.Signatures.At(ir.Signature(v))
		if data.Kind != ir.SigFunc {
			return nil, nil, errors.InvalidSignature(errors.PhaseDecode, "blocktype against non-function signature")
		}
		return data.Params, data.Returns, nil
	}
	b := byte(v & 0x7f)
	if b == 0x40 {
		return nil, nil, nil
	}
	ty, err := valTypeFromByte(p.r, b)
	if err != nil {
		return nil, nil, err
	}
	return nil, []ir.Type{ty}, nil
}

func (p *bodyParser) frameAt(depth uint32) (*frame, error) {
	idx := len(p.frames) - 1 - int(depth)
	if idx < 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, "branch depth out of range")
	}
	return &p.frames[idx], nil
}

// brTarget returns the target block and carried arity for a branch to
// the given frame.
func brTarget(fr *frame) (ir.Block, int) {
	if fr.kind == frameLoop {
		return fr.loop, fr.arity
	}
	return fr.join, fr.arity
}

func (p *bodyParser) run() error {
	for {
		opcode, err := p.r.ReadByte()
		if err != nil {
			return err
		}
		if p.dead {
			done, err := p.skipDead(opcode)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}
		done, err := p.step(opcode)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// skipDead consumes unreachable code, keeping frame nesting consistent
// so labels still line up.
func (p *bodyParser) skipDead(opcode byte) (bool, error) {
	switch opcode {
	case OpcodeBlock, OpcodeLoop, OpcodeIf:
		if _, _, err := p.blockType(); err != nil {
			return false, err
		}
		p.deadDepth++
		return false, nil
	case OpcodeElse:
		if p.deadDepth == 0 {
			return false, p.enterElse()
		}
		return false, nil
	case OpcodeEnd:
		if p.deadDepth > 0 {
			p.deadDepth--
			return false, nil
		}
		return p.frameEnd()
	default:
		return false, p.skipImmediates(opcode)
	}
}

func (p *bodyParser) step(opcode byte) (bool, error) {
	switch opcode {
	case OpcodeNop:
		return false, nil

	case OpcodeUnreachable:
		p.f.SetTerminator(p.bb, ir.UnreachableTerm())
		p.dead = true
		return false, nil

	case OpcodeBlock:
		params, results, err := p.blockType()
		if err != nil {
			return false, err
		}
		if len(p.stack) < len(params) {
			return false, errors.InvalidData(errors.PhaseDecode, "block param underflow")
		}
		below := append([]ir.Value(nil), p.stack[:len(p.stack)-len(params)]...)
		p.frames = append(p.frames, frame{
			kind:        frameBlock,
			join:        p.newJoin(results),
			arity:       len(results),
			joinResults: len(results),
			stackBelow:  below,
		})
		return false, nil

	case OpcodeLoop:
		params, results, err := p.blockType()
		if err != nil {
			return false, err
		}
		header := p.newJoin(params)
		args, err := p.branchArgs(len(params))
		if err != nil {
			return false, err
		}
		if _, err := p.popN(len(params)); err != nil {
			return false, err
		}
		below := append([]ir.Value(nil), p.stack...)
		p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: header, Args: args}))
		p.bb = header
		hdr := p.f.Blocks.At(header)
		for i := range p.cur {
			p.cur[i] = hdr.Params[i].Value
		}
		for _, bp := range hdr.Params[len(p.cur):] {
			p.push(bp.Value)
		}
		p.frames = append(p.frames, frame{
			kind:        frameLoop,
			join:        p.newJoin(results),
			loop:        header,
			arity:       len(params),
			joinResults: len(results),
			stackBelow:  below,
		})
		return false, nil

	case OpcodeIf:
		params, results, err := p.blockType()
		if err != nil {
			return false, err
		}
		cond, err := p.pop()
		if err != nil {
			return false, err
		}
		if len(p.stack) < len(params) {
			return false, errors.InvalidData(errors.PhaseDecode, "if param underflow")
		}
		below := append([]ir.Value(nil), p.stack[:len(p.stack)-len(params)]...)
		thenB := p.f.AddBlock()
		elseB := p.f.AddBlock()
		p.f.SetTerminator(p.bb, ir.CondBrTerm(cond,
			ir.BlockTarget{Block: thenB},
			ir.BlockTarget{Block: elseB}))
		p.frames = append(p.frames, frame{
			kind:        frameIf,
			join:        p.newJoin(results),
			arity:       len(results),
			joinResults: len(results),
			elseBlock:   elseB,
			savedCur:    append([]ir.Value(nil), p.cur...),
			savedStk:    append([]ir.Value(nil), p.stack...),
			stackBelow:  below,
		})
		p.bb = thenB
		return false, nil

	case OpcodeElse:
		return false, p.enterElse()

	case OpcodeEnd:
		return p.frameEnd()

	case OpcodeBr:
		depth, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		fr, err := p.frameAt(depth)
		if err != nil {
			return false, err
		}
		target, arity := brTarget(fr)
		args, err := p.branchArgs(arity)
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: target, Args: args}))
		p.dead = true
		return false, nil

	case OpcodeBrIf:
		depth, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		fr, err := p.frameAt(depth)
		if err != nil {
			return false, err
		}
		cond, err := p.pop()
		if err != nil {
			return false, err
		}
		target, arity := brTarget(fr)
		args, err := p.branchArgs(arity)
		if err != nil {
			return false, err
		}
		fall := p.f.AddBlock()
		p.f.SetTerminator(p.bb, ir.CondBrTerm(cond,
			ir.BlockTarget{Block: target, Args: args},
			ir.BlockTarget{Block: fall}))
		p.bb = fall
		return false, nil

	case OpcodeBrTable:
		n, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		depths := make([]uint32, n)
		for i := range depths {
			depths[i], err = p.r.ReadU32()
			if err != nil {
				return false, err
			}
		}
		defDepth, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		idx, err := p.pop()
		if err != nil {
			return false, err
		}
		mkTarget := func(depth uint32) (ir.BlockTarget, error) {
			fr, err := p.frameAt(depth)
			if err != nil {
				return ir.BlockTarget{}, err
			}
			target, arity := brTarget(fr)
			args, err := p.branchArgs(arity)
			if err != nil {
				return ir.BlockTarget{}, err
			}
			return ir.BlockTarget{Block: target, Args: args}, nil
		}
		targets := make([]ir.BlockTarget, n)
		for i, d := range depths {
			targets[i], err = mkTarget(d)
			if err != nil {
				return false, err
			}
		}
		def, err := mkTarget(defDepth)
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.SelectTerm(idx, targets, def))
		p.dead = true
		return false, nil

	case OpcodeReturn:
		values, err := p.popN(len(p.f.Rets))
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.ReturnTerm(values))
		p.dead = true
		return false, nil

	case OpcodeReturnCall:
		fn, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		sig := p.m.Funcs.At(ir.Func(fn)).Signature()
		data := p.m.Signatures.At(sig)
		args, err := p.popN(len(data.Params))
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.ReturnCallTerm(ir.Func(fn), args))
		p.dead = true
		return false, nil

	case OpcodeReturnCallIndirect:
		typeIdx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		tableIdx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		data := p.m.Signatures.At(ir.Signature(typeIdx))
		args, err := p.popN(len(data.Params) + 1)
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.ReturnCallIndirectTerm(ir.Signature(typeIdx), ir.Table(tableIdx), args))
		p.dead = true
		return false, nil

	case OpcodeReturnCallRef:
		typeIdx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		data := p.m.Signatures.At(ir.Signature(typeIdx))
		args, err := p.popN(len(data.Params) + 1)
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.ReturnCallRefTerm(ir.Signature(typeIdx), args))
		p.dead = true
		return false, nil

	case OpcodeDrop:
		_, err := p.pop()
		return false, err

	case OpcodeLocalGet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		p.push(p.cur[idx])
		return false, nil

	case OpcodeLocalSet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		v, err := p.pop()
		if err != nil {
			return false, err
		}
		p.cur[idx] = v
		p.f.MarkValueAsLocal(v, ir.Local(idx))
		return false, nil

	case OpcodeLocalTee:
		idx, err := p.r.ReadU32()
		if err != nil {
			return false, err
		}
		if len(p.stack) == 0 {
			return false, errors.InvalidData(errors.PhaseDecode, "operand stack underflow")
		}
		v := p.stack[len(p.stack)-1]
		p.cur[idx] = v
		p.f.MarkValueAsLocal(v, ir.Local(idx))
		return false, nil

	default:
		op, err := p.decodeOperator(opcode)
		if err != nil {
			return false, err
		}
		return false, p.emit(op)
	}
}

// enterElse seals the then-path and switches to the else block.
func (p *bodyParser) enterElse() error {
	fr := &p.frames[len(p.frames)-1]
	if fr.kind != frameIf || fr.elseSeen {
		return errors.InvalidData(errors.PhaseDecode, "else outside if")
	}
	if !p.dead {
		args, err := p.branchArgs(fr.arity)
		if err != nil {
			return err
		}
		p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: fr.join, Args: args}))
	}
	fr.elseSeen = true
	p.cur = append([]ir.Value(nil), fr.savedCur...)
	p.stack = append([]ir.Value(nil), fr.savedStk...)
	p.bb = fr.elseBlock
	p.dead = false
	p.deadDepth = 0
	return nil
}

// frameEnd closes the innermost frame. Returns true when the function
// frame itself closes.
func (p *bodyParser) frameEnd() (bool, error) {
	fr := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]

	if fr.kind == frameLoop {
		// Fallthrough continues past the loop; a dead inner end leaves
		// the loop's join unreachable unless branched to.
		if !p.dead {
			args, err := p.branchArgs(fr.joinResults)
			if err != nil {
				return false, err
			}
			p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: fr.join, Args: args}))
		}
		p.switchToJoin(&fr)
		return len(p.frames) == 0, nil
	}

	if fr.kind == frameIf {
		if !p.dead {
			args, err := p.branchArgs(fr.arity)
			if err != nil {
				return false, err
			}
			p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: fr.join, Args: args}))
		}
		if !fr.elseSeen {
			// Implicit else: pass the if params straight through.
			p.cur = append([]ir.Value(nil), fr.savedCur...)
			p.stack = append([]ir.Value(nil), fr.savedStk...)
			p.bb = fr.elseBlock
			p.dead = false
			args, err := p.branchArgs(fr.arity)
			if err != nil {
				return false, err
			}
			p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: fr.join, Args: args}))
		}
		p.switchToJoin(&fr)
		return len(p.frames) == 0, nil
	}

	// Plain block (or the function frame).
	if !p.dead {
		args, err := p.branchArgs(fr.arity)
		if err != nil {
			return false, err
		}
		p.f.SetTerminator(p.bb, ir.BrTerm(ir.BlockTarget{Block: fr.join, Args: args}))
	}
	p.switchToJoin(&fr)
	return len(p.frames) == 0, nil
}

// emit types and appends one plain operator.
func (p *bodyParser) emit(op ir.Operator) error {
	if op.Kind == ir.OpRefIsNull {
		if len(p.stack) == 0 {
			return errors.InvalidData(errors.PhaseDecode, "operand stack underflow")
		}
		if ty, ok := p.typeOf(p.stack[len(p.stack)-1]); ok {
			op.Type = ty
		}
	}
	stackTypes := p.stackTypes()
	ins, err := ir.OpInputs(p.m, stackTypes, op)
	if err != nil {
		return err
	}
	outs, err := ir.OpOutputs(p.m, stackTypes, op)
	if err != nil {
		return err
	}
	args, err := p.popN(len(ins))
	if err != nil {
		return err
	}
	v := p.f.AddOp(p.bb, op, args, outs)
	switch len(outs) {
	case 0:
	case 1:
		p.push(v)
	default:
		for i, ty := range outs {
			pick := p.f.AddValue(ir.PickOutputDef(v, uint32(i), ty))
			p.f.AppendToBlock(p.bb, pick)
			p.push(pick)
		}
	}
	return nil
}
