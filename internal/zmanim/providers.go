package zmanim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MyZmanimClient queries the MyZmanim web service.
type MyZmanimClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewMyZmanimClient(endpoint, apiKey string) *MyZmanimClient {
	return &MyZmanimClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{}}
}

func (c *MyZmanimClient) Name() string { return "myzmanim" }

func (c *MyZmanimClient) Fetch(ctx context.Context, lat, lng float64, date time.Time) (Times, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.6f", lat))
	q.Set("longitude", fmt.Sprintf("%.6f", lng))
	q.Set("date", date.Format("2006-01-02"))
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Times{}, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Times{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Times{}, fmt.Errorf("myzmanim status %d", resp.StatusCode)
	}
	var out struct {
		Shacharit string `json:"shacharit"`
		Mincha    string `json:"mincha"`
		Maariv    string `json:"maariv"`
		Sunrise   string `json:"sunrise"`
		Sunset    string `json:"sunset"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Times{}, err
	}
	return normalize(c.Name(), out.Shacharit, out.Mincha, out.Maariv, out.Sunrise, out.Sunset)
}

// HebcalClient queries the Hebcal zmanim endpoint. Hebcal has no notion of
// shacharit/maariv per se, so dawn (alot) and nightfall (tzeit) stand in
// when the named keys are absent, mirroring how callers of the API use it.
type HebcalClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHebcalClient(endpoint string) *HebcalClient {
	return &HebcalClient{Endpoint: endpoint, Client: &http.Client{}}
}

func (c *HebcalClient) Name() string { return "hebcal" }

func (c *HebcalClient) Fetch(ctx context.Context, lat, lng float64, date time.Time) (Times, error) {
	q := url.Values{}
	q.Set("cfg", "json")
	q.Set("latitude", fmt.Sprintf("%.6f", lat))
	q.Set("longitude", fmt.Sprintf("%.6f", lng))
	q.Set("date", date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Times{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Times{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Times{}, fmt.Errorf("hebcal status %d", resp.StatusCode)
	}
	var out struct {
		Times struct {
			Shacharit string `json:"shacharit"`
			Alot      string `json:"alotHaShachar"`
			Mincha    string `json:"minchaGedola"`
			Maariv    string `json:"maariv"`
			Tzeit     string `json:"tzeit7083deg"`
			Sunrise   string `json:"sunrise"`
			Sunset    string `json:"sunset"`
		} `json:"times"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Times{}, err
	}
	t := out.Times
	shacharit := firstNonEmpty(t.Shacharit, t.Alot)
	maariv := firstNonEmpty(t.Maariv, t.Tzeit)
	return normalize(c.Name(), shacharit, t.Mincha, maariv, t.Sunrise, t.Sunset)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalize rejects incomplete payloads and reduces every timestamp to an
// HH:MM clock so a malformed response falls through to the next tier.
func normalize(source, shacharit, mincha, maariv, sunrise, sunset string) (Times, error) {
	t := Times{Source: source}
	fields := []struct {
		name string
		in   string
		out  *string
	}{
		{"shacharit", shacharit, &t.Shacharit},
		{"mincha", mincha, &t.Mincha},
		{"maariv", maariv, &t.Maariv},
		{"sunrise", sunrise, &t.Sunrise},
		{"sunset", sunset, &t.Sunset},
	}
	for _, f := range fields {
		clock, err := toClock(f.in)
		if err != nil {
			return Times{}, fmt.Errorf("%s %s: %w", source, f.name, err)
		}
		*f.out = clock
	}
	return t, nil
}

func toClock(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("missing time")
	}
	for _, layout := range []string{"15:04", "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.Format("15:04"), nil
		}
	}
	return "", fmt.Errorf("unparseable time %q", v)
}
