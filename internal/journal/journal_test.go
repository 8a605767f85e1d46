package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"warden/internal/envelope"
	"warden/internal/proposal"
	"warden/internal/reduction"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestAppendAndReadProposals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)
	entries := []proposal.Entry{
		{TaskID: "task-1", Tag: proposal.TagSkippedNoReducer, At: at},
		{TaskID: "task-1", Tag: proposal.TagAllowed, At: at.Add(time.Minute), CandidateName: "harvest_sugarcane", CandidateDigest: "abcd1234abcd1234"},
		{TaskID: "task-2", Tag: proposal.TagBlocked, At: at.Add(2 * time.Minute), Detail: "declined"},
	}
	for _, e := range entries {
		if err := s.AppendProposal(ctx, e); err != nil {
			t.Fatalf("AppendProposal: %v", err)
		}
	}

	got, err := s.RecentProposals(ctx, "task-1", 10)
	if err != nil {
		t.Fatalf("RecentProposals: %v", err)
	}

	// Newest first.
	want := []ProposalRecord{
		{
			TaskID:          "task-1",
			Tag:             string(proposal.TagAllowed),
			At:              at.Add(time.Minute),
			CandidateName:   "harvest_sugarcane",
			CandidateDigest: "abcd1234abcd1234",
		},
		{
			TaskID: "task-1",
			Tag:    string(proposal.TagSkippedNoReducer),
			At:     at,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentProposals mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendReductionBothShapes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	env := envelope.Build("collect eight sugarcane stalks", envelope.Meta{ModelID: "m1"})
	raw := `{"intent_family":"capability"}`
	processed := reduction.NewProcessed(env, reduction.Result{
		IntentFamily: "capability",
		Executable:   true,
	}, &raw, 40*time.Millisecond)
	fallback := reduction.NewFallback(env, reduction.FallbackTimeout, 10*time.Second)

	if err := s.AppendReduction(ctx, processed); err != nil {
		t.Fatalf("AppendReduction processed: %v", err)
	}
	if err := s.AppendReduction(ctx, fallback); err != nil {
		t.Fatalf("AppendReduction fallback: %v", err)
	}

	counts, err := s.CountReductions(ctx)
	if err != nil {
		t.Fatalf("CountReductions: %v", err)
	}
	if counts.Total != 2 || counts.Processed != 1 || counts.Fallback != 1 {
		t.Errorf("counts = %+v, want total 2 processed 1 fallback 1", counts)
	}
}

func TestRecentProposalsHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := proposal.Entry{TaskID: "t", Tag: proposal.TagBlocked, At: base.Add(time.Duration(i) * time.Second)}
		if err := s.AppendProposal(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RecentProposals(ctx, "t", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].At.Equal(base.Add(4 * time.Second)) {
		t.Errorf("limit did not keep the newest rows: %v", got[0].At)
	}
}

func TestNilStoreIsRejected(t *testing.T) {
	var s *Store
	if err := s.AppendProposal(context.Background(), proposal.Entry{TaskID: "t"}); err == nil {
		t.Error("nil store must refuse writes")
	}
}
