package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/louisbranch/partyround/internal/services/rounds/domain/action"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/auditlog"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/effect"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/match"
	"github.com/louisbranch/partyround/internal/services/rounds/domain/verdict"
	"github.com/louisbranch/partyround/internal/services/rounds/storage"
)

var testNow = time.Date(2026, time.March, 3, 18, 0, 0, 0, time.UTC)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rounds.db")
	applied, err := Migrate(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []string{"001_rounds.sql"}, applied)

	applied, err = Migrate(context.Background(), path)
	require.NoError(t, err)
	require.Empty(t, applied)
}

func TestCreateMatchLoadStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seed := seedState()
	require.NoError(t, store.CreateMatch(ctx, seed))
	require.NoError(t, store.OpenRound(ctx, match.Round{MatchID: "m1", Number: 1, Danger: 2, OpenedAt: testNow}))

	got, err := store.LoadState(ctx, storage.RoundKey{MatchID: "m1", Round: 1})
	require.NoError(t, err)
	require.Equal(t, 1, got.Match.CurrentRound)
	require.Equal(t, match.PhaseRunning, got.Match.Phase)
	require.Equal(t, seed.Participants, got.Participants)
	require.Equal(t, seed.Inventory, got.Inventory)
	require.Len(t, got.Slots, 2)
	require.Equal(t, *seed.Slots[0].Entity, *got.Slots[0].Entity)
	require.Nil(t, got.Slots[1].Entity)
	require.Len(t, got.Queue, 1)
	require.Equal(t, match.EntityQueued, got.Queue[0].Status)
	require.Equal(t, match.RoundOpen, got.Round.Status)
	require.Equal(t, 2, got.Round.Danger)
	require.True(t, got.Round.OpenedAt.Equal(testNow))
}

func TestCreateMatchRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, seedState()))
	require.ErrorIs(t, store.CreateMatch(ctx, seedState()), storage.ErrAlreadyExists)
}

func TestGetMatchNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.GetMatch(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenRoundRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, seedState()))
	require.NoError(t, store.OpenRound(ctx, match.Round{MatchID: "m1", Number: 1}))
	require.ErrorIs(t, store.OpenRound(ctx, match.Round{MatchID: "m1", Number: 1}), storage.ErrAlreadyExists)
}

func TestPutActionOverwritesUntilLocked(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	key := openRound(t, store)

	first := action.Action{Participant: 1, Priority: action.At(3), Kind: action.KindAttack, Attack: &action.Attack{Slot: 1}}
	second := action.Action{Participant: 1, Priority: action.At(1), Kind: action.KindProtect, Protect: &action.Protect{Item: "shield", Slot: 1}}
	other := action.Action{Participant: 2, Kind: action.KindAttack, Attack: &action.Attack{Slot: 1, Weapons: []string{"sword"}}}
	require.NoError(t, store.PutAction(ctx, key, first, testNow))
	require.NoError(t, store.PutAction(ctx, key, other, testNow))
	require.NoError(t, store.PutAction(ctx, key, second, testNow))

	got, err := store.ListActions(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, second, got[0])
	require.Equal(t, 2, got[1].Rank(), "default priority is the participant number")

	require.NoError(t, store.LockRound(ctx, key, 42, testNow))
	require.ErrorIs(t, store.PutAction(ctx, key, first, testNow), storage.ErrRoundNotOpen)
}

func TestListActionsKeepsExplicitZeroPriority(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	key := openRound(t, store)

	early := action.Action{Participant: 2, Priority: action.At(0), Kind: action.KindAttack, Attack: &action.Attack{Slot: 1}}
	guard := action.Action{Participant: 1, Kind: action.KindProtect, Protect: &action.Protect{Item: "shield", Slot: 1}}
	require.NoError(t, store.PutAction(ctx, key, guard, testNow))
	require.NoError(t, store.PutAction(ctx, key, early, testNow))

	got, err := store.ListActions(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 2, got[0].Participant)
	require.NotNil(t, got[0].Priority)
	require.Equal(t, 0, *got[0].Priority)
	require.Equal(t, 1, got[1].Rank())
}

func TestLockRoundIsOneWay(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	key := openRound(t, store)

	require.NoError(t, store.LockRound(ctx, key, 7, testNow))
	require.ErrorIs(t, store.LockRound(ctx, key, 8, testNow), storage.ErrAlreadyFrozen)

	r, err := store.GetRound(ctx, key)
	require.NoError(t, err)
	require.Equal(t, match.RoundLocked, r.Status)
	require.Equal(t, int64(7), r.TieBreakSeed)

	require.ErrorIs(t, store.LockRound(ctx, storage.RoundKey{MatchID: "m1", Round: 9}, 1, testNow), storage.ErrNotFound)
}

func TestListDueRounds(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, seedState()))
	require.NoError(t, store.OpenRound(ctx, match.Round{MatchID: "m1", Number: 1, Deadline: testNow.Add(-time.Minute)}))

	other := seedState()
	other.Match.ID = "m2"
	require.NoError(t, store.CreateMatch(ctx, other))
	require.NoError(t, store.OpenRound(ctx, match.Round{MatchID: "m2", Number: 1, Deadline: testNow.Add(time.Hour)}))

	due, err := store.ListDueRounds(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "m1", due[0].MatchID)

	require.NoError(t, store.LockRound(ctx, storage.RoundKey{MatchID: "m2", Round: 1}, 1, testNow))
	due, err = store.ListDueRounds(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 2)
}

func TestCommitResolutionAppliesStateOnce(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	key := openRound(t, store)
	require.NoError(t, store.LockRound(ctx, key, 1, testNow))

	state, err := store.LoadState(ctx, key)
	require.NoError(t, err)
	state.Slots[0].Entity.Health = 0
	state.Slots[0].Entity.Status = match.EntityDefeated
	state.Participants[0].Score = 5
	state.Participants[1].Alive = false
	state.Inventory = nil
	state.Match.Phase = match.PhaseEnded
	state.Match.Winner = match.TeamParty
	state.Match.EndReason = "objective_reached"

	slot := 1
	rec := storage.ResolutionRecord{
		ID: "res-1", MatchID: "m1", Round: 1, Ruleset: match.RulesetSkirmish,
		Lines: []auditlog.Line{
			{Seq: 1, Visibility: auditlog.Public, Key: auditlog.KeyAttackHit, Args: []string{"1", "5"}, Text: "participant 1 dealt 5 damage", Actor: 1, Damage: 5},
			{Seq: 2, Visibility: auditlog.Privileged, Key: auditlog.KeyAttackHitDetail, Slot: &slot},
		},
		Terminal:   []effect.TerminalEvent{{Kind: effect.TerminalKill, Slot: 1, Entity: "Rat", Reward: 1, CreditedTo: 1}},
		Verdict:    verdict.Verdict{Ended: true, Winner: match.TeamParty, Reason: "objective_reached"},
		ResolvedAt: testNow,
	}
	require.NoError(t, store.CommitResolution(ctx, rec, state))

	got, err := store.GetResolution(ctx, key)
	require.NoError(t, err)
	require.Equal(t, rec.Lines, got.Lines)
	require.Equal(t, rec.Terminal, got.Terminal)
	require.Equal(t, rec.Verdict, got.Verdict)
	require.True(t, got.ResolvedAt.Equal(testNow))

	after, err := store.LoadState(ctx, key)
	require.NoError(t, err)
	require.Equal(t, match.RoundResolved, after.Round.Status)
	require.Equal(t, match.PhaseEnded, after.Match.Phase)
	require.Equal(t, match.TeamParty, after.Match.Winner)
	require.Equal(t, 5, after.Participants[0].Score)
	require.False(t, after.Participants[1].Alive)
	require.Empty(t, after.Inventory)
	require.Equal(t, match.EntityDefeated, after.Slots[0].Entity.Status)

	dup := rec
	dup.ID = "res-2"
	require.ErrorIs(t, store.CommitResolution(ctx, dup, state), storage.ErrAlreadyResolved)
}

func TestConcurrentCommitsAcrossHandlesKeepOneWinner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rounds.db")
	first, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	ctx := context.Background()
	key := openRound(t, first)
	require.NoError(t, first.LockRound(ctx, key, 1, testNow))
	state, err := first.LoadState(ctx, key)
	require.NoError(t, err)

	stores := []*Store{first, second, first, second}
	errs := make([]error, len(stores))
	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			rec := storage.ResolutionRecord{ID: "res-" + string(rune('a'+i)), MatchID: "m1", Round: 1, Ruleset: match.RulesetSkirmish, ResolvedAt: testNow}
			errs[i] = s.CommitResolution(ctx, rec, state)
		}(i, s)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		require.ErrorIs(t, err, storage.ErrAlreadyResolved)
	}
	require.Equal(t, 1, winners)
}

func TestRemoveParticipantIsSoft(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	key := openRound(t, store)

	require.NoError(t, store.RemoveParticipant(ctx, "m1", 2))
	require.ErrorIs(t, store.RemoveParticipant(ctx, "m1", 9), storage.ErrNotFound)

	state, err := store.LoadState(ctx, key)
	require.NoError(t, err)
	require.Len(t, state.Participants, 2)
	require.True(t, state.Participants[1].Removed)
	require.False(t, state.Participants[1].CanAct())
}

func seedState() match.State {
	rat := match.Entity{TemplateID: "rat", Name: "Rat", Health: 5, MaxHealth: 5, Reward: 1, Status: match.EntityActive}
	return match.State{
		Match: match.Match{
			ID: "m1", Ruleset: match.RulesetSkirmish, Phase: match.PhaseRunning,
			RoundLimit: 5, ObjectiveTarget: 2, SlotCount: 2, CreatedAt: testNow,
		},
		Participants: []match.Participant{
			{Num: 1, Name: "Ana", Role: "fighter", Team: match.TeamParty, Alive: true, Health: 20, MaxHealth: 20},
			{Num: 2, Name: "Bo", Role: "cleric", Team: match.TeamParty, Alive: true, Health: 16, MaxHealth: 16},
		},
		Slots: []match.Slot{{Index: 1, Entity: &rat}, {Index: 2}},
		Queue: []match.Entity{{TemplateID: "goblin", Name: "Goblin", Health: 8, MaxHealth: 8, Reward: 2, Status: match.EntityQueued}},
		Inventory: []match.InventoryItem{
			{Owner: 1, Kind: "sword", Quantity: 2, UsableNow: true},
			{Owner: 2, Kind: "salve", Quantity: 1, UsableNow: true},
		},
	}
}

func openRound(t *testing.T, store *Store) storage.RoundKey {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateMatch(ctx, seedState()))
	require.NoError(t, store.OpenRound(ctx, match.Round{MatchID: "m1", Number: 1, OpenedAt: testNow}))
	return storage.RoundKey{MatchID: "m1", Round: 1}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "rounds.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
