package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tbourn/go-knowledge-backend/internal/domain"
	"github.com/tbourn/go-knowledge-backend/internal/services"
)

func TestSearch_ValidationErrorsMapTo400(t *testing.T) {
	for _, svcErr := range []error{
		services.ErrEmptyQuery,
		services.ErrInvalidScope,
		services.ErrInvalidLimit,
	} {
		h := New(nil, &fakeSearchSvc{
			searchFn: func(context.Context, string, string, string, string, int) ([]services.SearchResult, error) {
				return nil, svcErr
			},
		}, nil)
		r := newTestRouter(h)

		w := doJSON(t, r, http.MethodGet, "/search?q=x", "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%v: status = %d; want 400", svcErr, w.Code)
		}
		if e := decodeError(t, w); e.Code != ErrCodeBadRequest {
			t.Fatalf("%v: code = %q", svcErr, e.Code)
		}
	}
}

func TestSearch_BackendUnavailable503(t *testing.T) {
	h := New(nil, &fakeSearchSvc{
		searchFn: func(context.Context, string, string, string, string, int) ([]services.SearchResult, error) {
			return nil, services.ErrSearchUnavailable
		},
	}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/search?q=budget", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeSearchUnavailable {
		t.Fatalf("code = %q", e.Code)
	}
}

func TestSearch_PassesNormalizedParams(t *testing.T) {
	var gotOwner, gotQuery, gotType, gotCampaign string
	var gotLimit int
	h := New(nil, &fakeSearchSvc{
		searchFn: func(_ context.Context, ownerID, query, bucketType, campaignID string, limit int) ([]services.SearchResult, error) {
			gotOwner, gotQuery, gotType, gotCampaign, gotLimit = ownerID, query, bucketType, campaignID, limit
			return []services.SearchResult{}, nil
		},
	}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet,
		"/search?q=%20launch%20plan%20&bucket_type=CAMPAIGN&campaign_id="+validUUID+"&limit=7",
		"", map[string]string{"X-User-ID": "u9"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gotOwner != "u9" || gotQuery != "launch plan" || gotType != "campaign" || gotCampaign != validUUID || gotLimit != 7 {
		t.Fatalf("params = %q %q %q %q %d", gotOwner, gotQuery, gotType, gotCampaign, gotLimit)
	}
}

func TestSearch_LimitCappedAt50(t *testing.T) {
	var gotLimit int
	h := New(nil, &fakeSearchSvc{
		searchFn: func(_ context.Context, _, _, _, _ string, limit int) ([]services.SearchResult, error) {
			gotLimit = limit
			return nil, nil
		},
	}, nil)
	r := newTestRouter(h)

	if w := doJSON(t, r, http.MethodGet, "/search?q=x&limit=500", "", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotLimit != 50 {
		t.Fatalf("limit = %d; want 50", gotLimit)
	}
}

func TestSearch_ResponseShape(t *testing.T) {
	h := New(nil, &fakeSearchSvc{
		searchFn: func(context.Context, string, string, string, string, int) ([]services.SearchResult, error) {
			return []services.SearchResult{
				{DocumentID: validUUID, DocumentTitle: "Brief", ChunkContent: "q3 budget", SimilarityScore: 0.91},
			}, nil
		},
	}, nil)
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/search?q=budget", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Query != "budget" {
		t.Fatalf("query = %q", resp.Query)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentTitle != "Brief" || resp.Results[0].SimilarityScore != 0.91 {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestListCampaigns_OK(t *testing.T) {
	h := New(nil, nil, &fakeCampSvc{
		listFn: func(context.Context) ([]domain.Campaign, error) {
			return []domain.Campaign{{ID: "c1", Name: "Launch"}, {ID: "c2", Name: "Renewal"}}, nil
		},
	})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/campaigns", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ListCampaignsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Campaigns) != 2 || resp.Campaigns[0].Name != "Launch" {
		t.Fatalf("campaigns = %+v", resp.Campaigns)
	}
}

func TestListCampaigns_Failure500(t *testing.T) {
	h := New(nil, nil, &fakeCampSvc{
		listFn: func(context.Context) ([]domain.Campaign, error) {
			return nil, errors.New("campaign store offline")
		},
	})
	r := newTestRouter(h)

	w := doJSON(t, r, http.MethodGet, "/campaigns", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeListFailed {
		t.Fatalf("code = %q", e.Code)
	}
}
