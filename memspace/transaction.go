package memspace

import "github.com/davidaparicio/maestro/mem"

type opKind int

const (
	opInsertGap opKind = iota
	opRemoveGap
	opInsertMapping
	opRemoveMapping
)

type stagedOp struct {
	kind    opKind
	gap     *MemGap
	mapping *MemMapping
	at      mem.VirtAddr // key for removal ops
}

/// Transaction buffers inserts and removes of gaps and mappings against
/// a MemSpaceState, plus the set of pages that must be TLB-invalidated
/// once applied. Nothing is visible to a concurrent page fault until
/// Commit runs; a Transaction that is simply dropped without Commit
/// leaves state untouched.
type Transaction struct {
	state     *MemSpaceState
	ops       []stagedOp
	invlpg    []mem.VirtAddr
	committed bool
}

/// newTransaction opens a transaction against state.
func newTransaction(state *MemSpaceState) *Transaction {
	return &Transaction{state: state}
}

func (t *Transaction) InsertGap(g *MemGap) {
	t.ops = append(t.ops, stagedOp{kind: opInsertGap, gap: g})
}

func (t *Transaction) RemoveGap(begin mem.VirtAddr) {
	t.ops = append(t.ops, stagedOp{kind: opRemoveGap, at: begin})
}

func (t *Transaction) InsertMapping(m *MemMapping) {
	t.ops = append(t.ops, stagedOp{kind: opInsertMapping, mapping: m})
}

func (t *Transaction) RemoveMapping(begin mem.VirtAddr) {
	t.ops = append(t.ops, stagedOp{kind: opRemoveMapping, at: begin})
}

/// Invlpg records that virt must be invalidated on the current CPU once
/// this transaction commits.
func (t *Transaction) Invlpg(virt mem.VirtAddr) {
	t.invlpg = append(t.invlpg, virt)
}

/// Commit applies every staged operation to state atomically from the
/// caller's point of view (the state pointer is only mutated here, in
/// one pass, never left half-updated across a yield point) and returns
/// the pages that need invalidating.
func (t *Transaction) Commit() []mem.VirtAddr {
	if t.committed {
		panic("memspace: transaction committed twice")
	}
	for _, op := range t.ops {
		switch op.kind {
		case opInsertGap:
			t.state.insertGap(op.gap)
		case opRemoveGap:
			t.state.removeGap(op.at)
		case opInsertMapping:
			t.state.insertMapping(op.mapping)
		case opRemoveMapping:
			t.state.removeMapping(op.at)
		}
	}
	t.committed = true
	return t.invlpg
}
