package pcc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ycwei/tender-watch/internal/models"
)

// Full browser headers; the upstream blocks requests that look like scripts.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7",
	"Referer":         "https://pcc-api.openfun.app/",
	"Origin":          "https://pcc-api.openfun.app",
	"Connection":      "keep-alive",
}

// Brief is the summary block attached to every listing record.
type Brief struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Record is one upstream tender record. Listing endpoints return it without
// the detail map; the tender endpoint returns it with one.
type Record struct {
	UnitID    string         `json:"unit_id"`
	JobNumber string         `json:"job_number"`
	UnitName  string         `json:"unit_name"`
	Date      int64          `json:"date"` // yyyymmdd publish date
	Brief     Brief          `json:"brief"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Identity returns the composite key of the record.
func (r Record) Identity() models.TenderIdentity {
	return models.TenderIdentity{UnitID: r.UnitID, JobNumber: r.JobNumber}
}

// SearchResult is the paged response of the searchbytitle endpoint.
type SearchResult struct {
	Records      []Record `json:"records"`
	TotalRecords int      `json:"total_records"`
	TotalPages   int      `json:"total_pages"`
}

type listResult struct {
	Records []Record `json:"records"`
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RequestDelay  time.Duration // cooperative pacing before every request
	RateLimitWait time.Duration // wait before the single 429 retry
}

// Client talks to the procurement API. All calls are serialized by the
// caller; the client sleeps RequestDelay before each request to respect
// upstream rate limits.
type Client struct {
	log     *zap.Logger
	http    *http.Client
	baseURL string
	delay   time.Duration
	wait    time.Duration
	sleep   func(time.Duration)
}

func NewClient(log *zap.Logger, opts Options) *Client {
	return &Client{
		log:     log,
		http:    &http.Client{Timeout: opts.Timeout},
		baseURL: opts.BaseURL,
		delay:   opts.RequestDelay,
		wait:    opts.RateLimitWait,
		sleep:   time.Sleep,
	}
}

// SearchByTitle runs a server-side keyword search over tender titles.
func (c *Client) SearchByTitle(ctx context.Context, query string, page int) (*SearchResult, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", fmt.Sprint(page))

	var res SearchResult
	if err := c.getJSON(ctx, "searchbytitle", params, &res); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return &res, nil
}

// ListByDate returns every tender published on the given yyyymmdd day. The
// result is unbounded server-side.
func (c *Client) ListByDate(ctx context.Context, date string) ([]Record, error) {
	params := url.Values{}
	params.Set("date", date)

	var res listResult
	if err := c.getJSON(ctx, "listbydate", params, &res); err != nil {
		return nil, fmt.Errorf("list date %s: %w", date, err)
	}
	return res.Records, nil
}

// TenderRecords returns all historical detail records sharing an identity.
// An identity can map to several announcements (amendments, corrections,
// rebids); disambiguation is the resolver's job.
func (c *Client) TenderRecords(ctx context.Context, id models.TenderIdentity) ([]Record, error) {
	params := url.Values{}
	params.Set("unit_id", id.UnitID)
	params.Set("job_number", id.JobNumber)

	var res listResult
	if err := c.getJSON(ctx, "tender", params, &res); err != nil {
		return nil, fmt.Errorf("tender %s: %w", id, err)
	}
	return res.Records, nil
}

// getJSON performs one paced GET with at most one retry after a rate-limit
// response. The retry is a bounded loop, not recursion.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	c.sleep(c.delay)

	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		for k, v := range defaultHeaders {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read %s response: %w", endpoint, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			c.log.Warn("rate limited, waiting before retry",
				zap.String("endpoint", endpoint),
				zap.Duration("wait", c.wait),
			)
			c.sleep(c.wait)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	}
}
