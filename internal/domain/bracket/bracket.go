// Package bracket builds and advances the single-elimination pairing tree
// of a tournament height.
package bracket

import (
	"fmt"
	"math/bits"

	"github.com/okian/arena/internal/domain/battle"
	"github.com/okian/arena/internal/domain/seed"
	"github.com/okian/arena/internal/domain/types"
)

// Stream labels. Both passes draw from one stream in this order.
const streamLabel = "arena/bracket/v1"

// Outcome describes how a node was resolved.
type Outcome string

// Node outcomes.
const (
	OutcomePending       Outcome = "pending"
	OutcomeBattle        Outcome = "battle"
	OutcomeBye           Outcome = "bye"
	OutcomeWalkover      Outcome = "walkover"
	OutcomeForfeit       Outcome = "forfeit"
	OutcomeDoubleForfeit Outcome = "double_forfeit"
	OutcomeRejected      Outcome = "rejected"
	OutcomeEmpty         Outcome = "empty"
)

// Slot is one side of a node.
type Slot struct {
	Participant types.ParticipantID `json:"participant"`
	Occupied    bool                `json:"occupied"`
}

// Node is one pairing of the tree.
type Node struct {
	ID        string              `json:"id"`
	Round     int                 `json:"round"`
	Index     int                 `json:"index"`
	Slots     [2]Slot             `json:"slots"`
	Outcome   Outcome             `json:"outcome"`
	Winner    types.ParticipantID `json:"winner"`
	HasWinner bool                `json:"has_winner"`
	Result    *battle.Result      `json:"result,omitempty"`
}

// Occupants returns the participants seated at the node.
func (n *Node) Occupants() []types.ParticipantID {
	var out []types.ParticipantID
	for _, s := range n.Slots {
		if s.Occupied {
			out = append(out, s.Participant)
		}
	}
	return out
}

// Resolved reports whether the node has an outcome.
func (n *Node) Resolved() bool { return n.Outcome != OutcomePending }

// Contested reports whether the node needs a commit–reveal round.
func (n *Node) Contested() bool {
	return n.Slots[0].Occupied && n.Slots[1].Occupied
}

func (n *Node) seats(id types.ParticipantID) bool {
	for _, s := range n.Slots {
		if s.Occupied && s.Participant == id {
			return true
		}
	}
	return false
}

// PairingID names a node by round and index.
func PairingID(round, index int) string { return fmt.Sprintf("r%d-%d", round, index) }

// Tree is the complete bracket. Round r (1-based) holds Size/2^r nodes.
type Tree struct {
	Size         int       `json:"size"`
	Participants int       `json:"participants"`
	Rounds       [][]*Node `json:"rounds"`
}

// Build shuffles the eligible set with the seed and lays out the tree.
func Build(eligible []types.ParticipantID, s seed.Seed) (*Tree, error) {
	n := len(eligible)
	if n < 2 {
		return nil, fmt.Errorf("%w: %d", ErrTooFewParticipants, n)
	}
	order := make([]types.ParticipantID, n)
	copy(order, eligible)
	types.SortIDs(order)
	for i := 1; i < n; i++ {
		if order[i] == order[i-1] {
			return nil, fmt.Errorf("%w: duplicate participant %s", ErrMalformed, order[i].Short())
		}
	}

	stream := seed.NewStream(s, streamLabel)
	stream.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	size := 1 << bits.Len(uint(n-1))
	matches := n - size/2

	first := make([][2]Slot, 0, size/2)
	for i := 0; i < matches; i++ {
		first = append(first, [2]Slot{
			{Participant: order[2*i], Occupied: true},
			{Participant: order[2*i+1], Occupied: true},
		})
	}
	for _, id := range order[2*matches:] {
		first = append(first, [2]Slot{{Participant: id, Occupied: true}})
	}
	// Second pass: seed-derived placement of matches and byes.
	stream.Shuffle(len(first), func(i, j int) { first[i], first[j] = first[j], first[i] })

	t := &Tree{Size: size, Participants: n}
	for width := size / 2; width >= 1; width /= 2 {
		round := len(t.Rounds) + 1
		nodes := make([]*Node, width)
		for i := range nodes {
			nodes[i] = &Node{ID: PairingID(round, i), Round: round, Index: i, Outcome: OutcomePending}
		}
		t.Rounds = append(t.Rounds, nodes)
	}
	for i, slots := range first {
		t.Rounds[0][i].Slots = slots
	}
	return t, nil
}

// NumRounds returns the number of rounds.
func (t *Tree) NumRounds() int { return len(t.Rounds) }

// Round returns the nodes of round r.
func (t *Tree) Round(r int) ([]*Node, error) {
	if r < 1 || r > len(t.Rounds) {
		return nil, fmt.Errorf("%w: round %d of %d", ErrMalformed, r, len(t.Rounds))
	}
	return t.Rounds[r-1], nil
}

// Node looks a node up by pairing id.
func (t *Tree) Node(id string) (*Node, bool) {
	for _, round := range t.Rounds {
		for _, n := range round {
			if n.ID == id {
				return n, true
			}
		}
	}
	return nil, false
}

// Prepare resolves every node of round r that cannot be contested: a single
// occupant advances (bye in round 1, walkover later) and a node with no
// occupant resolves empty. It returns the contested nodes.
func (t *Tree) Prepare(r int) ([]*Node, error) {
	nodes, err := t.Round(r)
	if err != nil {
		return nil, err
	}
	var contested []*Node
	for _, n := range nodes {
		if n.Resolved() {
			continue
		}
		occ := n.Occupants()
		switch len(occ) {
		case 2:
			contested = append(contested, n)
		case 1:
			n.Outcome = OutcomeWalkover
			if r == 1 {
				n.Outcome = OutcomeBye
			}
			n.Winner, n.HasWinner = occ[0], true
		default:
			n.Outcome = OutcomeEmpty
		}
	}
	return contested, nil
}

// Resolve records the outcome of a node. winner must be seated at the node
// unless the outcome is a double forfeit.
func (t *Tree) Resolve(r, index int, outcome Outcome, winner *types.ParticipantID, res *battle.Result) error {
	nodes, err := t.Round(r)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%w: node %d of round %d", ErrMalformed, index, r)
	}
	n := nodes[index]
	if n.Resolved() {
		return fmt.Errorf("%w: node %s resolved twice", ErrMalformed, n.ID)
	}
	if winner == nil {
		if outcome != OutcomeDoubleForfeit {
			return fmt.Errorf("%w: node %s outcome %s without winner", ErrMalformed, n.ID, outcome)
		}
	} else {
		if !n.seats(*winner) {
			return fmt.Errorf("%w: node %s winner %s not seated", ErrMalformed, n.ID, winner.Short())
		}
		n.Winner, n.HasWinner = *winner, true
	}
	n.Outcome = outcome
	n.Result = res
	return nil
}

// Advance seats the winners of round r in round r+1. Every node of round r
// must be resolved.
func (t *Tree) Advance(r int) error {
	nodes, err := t.Round(r)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if !n.Resolved() {
			return fmt.Errorf("%w: advance with %s pending", ErrMalformed, n.ID)
		}
	}
	if r == len(t.Rounds) {
		return nil
	}
	next := t.Rounds[r]
	for _, n := range nodes {
		if n.HasWinner {
			next[n.Index/2].Slots[n.Index%2] = Slot{Participant: n.Winner, Occupied: true}
		}
	}
	return nil
}

// Winner returns the champion once the final is resolved.
func (t *Tree) Winner() (types.ParticipantID, bool) {
	final := t.Rounds[len(t.Rounds)-1][0]
	if !final.Resolved() || !final.HasWinner {
		return types.ParticipantID{}, false
	}
	return final.Winner, true
}

// Leaves returns the round-1 occupants in node order.
func (t *Tree) Leaves() []types.ParticipantID {
	var out []types.ParticipantID
	for _, n := range t.Rounds[0] {
		out = append(out, n.Occupants()...)
	}
	return out
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	c := &Tree{Size: t.Size, Participants: t.Participants, Rounds: make([][]*Node, len(t.Rounds))}
	for r, round := range t.Rounds {
		c.Rounds[r] = make([]*Node, len(round))
		for i, n := range round {
			cp := *n
			if n.Result != nil {
				res := *n.Result
				cp.Result = &res
			}
			c.Rounds[r][i] = &cp
		}
	}
	return c
}

// Validate checks the structure and the permutation property.
func (t *Tree) Validate() error {
	if t.Size < 2 || t.Size&(t.Size-1) != 0 {
		return fmt.Errorf("%w: size %d", ErrMalformed, t.Size)
	}
	if t.Participants < 2 || t.Participants > t.Size || t.Size/2 >= t.Participants {
		return fmt.Errorf("%w: %d participants for size %d", ErrMalformed, t.Participants, t.Size)
	}
	if len(t.Rounds) != bits.Len(uint(t.Size))-1 {
		return fmt.Errorf("%w: %d rounds for size %d", ErrMalformed, len(t.Rounds), t.Size)
	}
	for r, round := range t.Rounds {
		if want := t.Size >> (r + 1); len(round) != want {
			return fmt.Errorf("%w: round %d has %d nodes, want %d", ErrMalformed, r+1, len(round), want)
		}
		for i, n := range round {
			if n == nil || n.Round != r+1 || n.Index != i || n.ID != PairingID(r+1, i) {
				return fmt.Errorf("%w: node %d of round %d misplaced", ErrMalformed, i, r+1)
			}
			if err := validateNode(n); err != nil {
				return err
			}
			if r > 0 {
				if err := validateFeed(t.Rounds[r-1], n); err != nil {
					return err
				}
			}
		}
	}

	seen := make(map[types.ParticipantID]struct{}, t.Participants)
	for _, n := range t.Rounds[0] {
		if len(n.Occupants()) == 0 {
			return fmt.Errorf("%w: round-1 node %s has no participant", ErrMalformed, n.ID)
		}
		for _, id := range n.Occupants() {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s appears twice", ErrMalformed, id.Short())
			}
			seen[id] = struct{}{}
		}
	}
	if len(seen) != t.Participants {
		return fmt.Errorf("%w: %d leaves for %d participants", ErrMalformed, len(seen), t.Participants)
	}
	return nil
}

func validateNode(n *Node) error {
	if n.HasWinner && !n.seats(n.Winner) {
		return fmt.Errorf("%w: node %s winner not seated", ErrMalformed, n.ID)
	}
	switch n.Outcome {
	case OutcomeBattle, OutcomeForfeit, OutcomeRejected:
		if !n.Contested() || !n.HasWinner {
			return fmt.Errorf("%w: node %s outcome %s needs two participants and a winner", ErrMalformed, n.ID, n.Outcome)
		}
	case OutcomeBye, OutcomeWalkover:
		if len(n.Occupants()) != 1 || !n.HasWinner {
			return fmt.Errorf("%w: node %s outcome %s needs one participant", ErrMalformed, n.ID, n.Outcome)
		}
	case OutcomeDoubleForfeit:
		if !n.Contested() || n.HasWinner {
			return fmt.Errorf("%w: node %s double forfeit with winner", ErrMalformed, n.ID)
		}
	case OutcomeEmpty:
		if len(n.Occupants()) != 0 {
			return fmt.Errorf("%w: node %s empty with participants", ErrMalformed, n.ID)
		}
	case OutcomePending:
	default:
		return fmt.Errorf("%w: node %s unknown outcome %q", ErrMalformed, n.ID, n.Outcome)
	}
	return nil
}

// validateFeed checks that the slots of n hold the winners of its children.
func validateFeed(prev []*Node, n *Node) error {
	for side := 0; side < 2; side++ {
		child := prev[2*n.Index+side]
		slot := n.Slots[side]
		if !slot.Occupied {
			if child.HasWinner && n.Resolved() {
				return fmt.Errorf("%w: node %s lost winner of %s", ErrMalformed, n.ID, child.ID)
			}
			continue
		}
		if !child.HasWinner || child.Winner != slot.Participant {
			return fmt.Errorf("%w: node %s seats %s not won in %s", ErrMalformed, n.ID, slot.Participant.Short(), child.ID)
		}
	}
	return nil
}
