package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// runContract exercises behaviour every CaseRepository must share.
func runContract(t *testing.T, newRepo func(t *testing.T) CaseRepository) {
	t.Run("create settlement only", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		text := "page one"
		c := newCase("s.pdf", nil)
		c.SettlementText = &text
		require.NoError(t, repo.Create(ctx, c))
		assert.NotZero(t, c.ID)
		assert.Equal(t, model.StatusPending, c.AnalysisStatus)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.AnalysisStatus)
		assert.False(t, got.HasBid())
		assert.Nil(t, got.Bid)
		assert.Nil(t, got.AnalysisJSON)
		assert.Nil(t, got.AnalysisError)
		assert.Nil(t, got.CaseName)
		require.NotNil(t, got.SettlementText)
		assert.Equal(t, "page one", *got.SettlementText)
		assert.Nil(t, got.BidText)
	})

	t.Run("has_bid mirrors bid fields", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		rnd := rand.New(rand.NewSource(7))
		for i := 0; i < 25; i++ {
			var bid *model.DocumentRef
			if rnd.Intn(2) == 1 {
				bid = &model.DocumentRef{
					Filename:  fmt.Sprintf("bid-%d.pdf", i),
					Path:      fmt.Sprintf("/uploads/bid-%d.pdf", i),
					MediaType: "application/pdf",
				}
			}
			c := newCase(fmt.Sprintf("s-%d.pdf", i), bid)
			require.NoError(t, repo.Create(ctx, c))
			got, err := repo.Get(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, bid != nil, got.HasBid())
			if bid != nil {
				require.NotNil(t, got.Bid)
				assert.Equal(t, *bid, *got.Bid)
			}
		}
		summaries, err := repo.List(ctx)
		require.NoError(t, err)
		for _, s := range summaries {
			assert.Equal(t, s.HasBid, s.BidFilename != nil)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		var ids []int64
		for i := 0; i < 3; i++ {
			c := newCase(fmt.Sprintf("s-%d.pdf", i), nil)
			require.NoError(t, repo.Create(ctx, c))
			ids = append(ids, c.ID)
		}
		summaries, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{summaries[0].ID, summaries[1].ID, summaries[2].ID})
		assert.Equal(t, "s-2.pdf", summaries[0].SettlementFilename)
	})

	t.Run("claim is won once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		c := newCase("s.pdf", nil)
		require.NoError(t, repo.Create(ctx, c))
		past := time.Now().Add(-time.Hour)

		ok, err := repo.Claim(ctx, c.ID, past)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Claim(ctx, c.ID, past)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, got.AnalysisStatus)
		assert.NotNil(t, got.AnalysisStartedAt)

		// A claim that started before the stale cut-off can be taken over.
		ok, err = repo.Claim(ctx, c.ID, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failed is claimable and completed is not", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		c := newCase("s.pdf", nil)
		require.NoError(t, repo.Create(ctx, c))
		past := time.Now().Add(-time.Hour)

		ok, err := repo.Claim(ctx, c.ID, past)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.MarkFailed(ctx, c.ID, "model exploded"))

		got, err := repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.AnalysisStatus)
		require.NotNil(t, got.AnalysisError)
		assert.Equal(t, "model exploded", *got.AnalysisError)
		assert.Nil(t, got.AnalysisJSON)

		ok, err = repo.Claim(ctx, c.ID, past)
		require.NoError(t, err)
		require.True(t, ok)

		name := "Doe v. Acme"
		require.NoError(t, repo.MarkCompleted(ctx, c.ID, model.AnalysisResult{
			JSON:     json.RawMessage(`{"case_name":"Doe v. Acme","summary":"s"}`),
			Issues:   []string{"/timeline: missing"},
			CaseName: &name,
		}))
		got, err = repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.AnalysisStatus)
		assert.Nil(t, got.AnalysisError)
		assert.Equal(t, `{"case_name":"Doe v. Acme","summary":"s"}`, string(got.AnalysisJSON))
		assert.Equal(t, []string{"/timeline: missing"}, got.AnalysisIssues)
		require.NotNil(t, got.CaseName)
		assert.Equal(t, name, *got.CaseName)
		assert.Nil(t, got.CaseNumber)

		ok, err = repo.Claim(ctx, c.ID, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		// Failing a completed case drops the stored analysis.
		require.NoError(t, repo.MarkFailed(ctx, c.ID, "retry failed"))
		got, err = repo.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got.AnalysisJSON)
		assert.Nil(t, got.AnalysisIssues)
		assert.Equal(t, name, *got.CaseName)
	})

	t.Run("unknown ids", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		_, err := repo.Get(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.Claim(ctx, 404, time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.MarkFailed(ctx, 404, "x"), ErrNotFound)
		assert.ErrorIs(t, repo.MarkCompleted(ctx, 404, model.AnalysisResult{JSON: json.RawMessage(`{}`)}), ErrNotFound)
		_, err = repo.Delete(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete returns file references", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		c := newCase("s.pdf", &model.DocumentRef{Filename: "b.pdf", Path: "/uploads/b.pdf", MediaType: "application/pdf"})
		require.NoError(t, repo.Create(ctx, c))

		deleted, err := repo.Delete(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "/uploads/s.pdf", deleted.Settlement.Path)
		require.NotNil(t, deleted.Bid)
		assert.Equal(t, "/uploads/b.pdf", deleted.Bid.Path)

		_, err = repo.Get(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func newCase(settlement string, bid *model.DocumentRef) *model.Case {
	return &model.Case{
		Settlement: model.DocumentRef{
			Filename:  settlement,
			Path:      "/uploads/" + settlement,
			MediaType: "application/pdf",
		},
		Bid: bid,
	}
}
