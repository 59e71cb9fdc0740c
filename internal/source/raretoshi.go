package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/machinebox/graphql"

	"github.com/rizzling/toshiwatcher/internal/config"
	"github.com/rizzling/toshiwatcher/internal/model"
	"github.com/rizzling/toshiwatcher/internal/util"
)

const recentActivityQuery = `query RecentActivity($exclude: String!, $limit: Int!) {
  recentactivity(where: {type: {_neq: $exclude}}, limit: $limit) {
    id
    type
    amount
    created_at
    artwork {
      slug
      artist {
        username
      }
      asset
      edition
      editions
      asking_asset
      title
      filename
      created_at
    }
  }
}`

type raretoshiSource struct {
	cfg    config.SourceConfig
	client *graphql.Client
}

// NewRaretoshi returns a source reading the marketplace's recent activity
// feed over GraphQL.
func NewRaretoshi(cfg config.SourceConfig) Source {
	hc := util.NewHTTPClient(cfg.HTTP)
	hc.Transport = statusTransport{next: hc.Transport}
	return &raretoshiSource{cfg: cfg, client: graphql.NewClient(cfg.Endpoint, graphql.WithHTTPClient(hc))}
}

func (r *raretoshiSource) Name() string { return "raretoshi" }

type recentActivityResponse struct {
	RecentActivity []model.Event `json:"recentactivity"`
}

// statusTransport fails non-2xx responses. The GraphQL client would
// otherwise accept any JSON body, so a 5xx carrying JSON would read as an
// empty feed.
type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (r *raretoshiSource) Fetch(ctx context.Context) ([]model.Event, error) {
	evs, err := r.fetch(ctx)
	if err != nil {
		return nil, &FetchError{Source: r.Name(), Err: err}
	}
	return evs, nil
}

func (r *raretoshiSource) fetch(ctx context.Context) ([]model.Event, error) {
	limit := r.cfg.Limit
	if limit <= 0 {
		limit = 20
	}
	exclude := r.cfg.ExcludeKind
	if exclude == "" {
		exclude = model.KindRoyalty
	}

	req := graphql.NewRequest(recentActivityQuery)
	req.Var("exclude", exclude)
	req.Var("limit", limit)
	if ua := r.cfg.HTTP.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	var out recentActivityResponse
	if err := r.client.Run(ctx, req, &out); err != nil {
		return nil, err
	}

	evs := make([]model.Event, 0, len(out.RecentActivity))
	for _, ev := range out.RecentActivity {
		if strings.EqualFold(ev.Kind, exclude) {
			continue
		}
		if strings.TrimSpace(ev.ID) == "" {
			return nil, fmt.Errorf("activity without id (type %q)", ev.Kind)
		}
		evs = append(evs, ev)
		if len(evs) == limit {
			break
		}
	}
	return evs, nil
}
