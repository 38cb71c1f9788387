package connector

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"voxreview.app/relay/internal/model"
)

type tripadvisorAPI struct{}

func NewTripAdvisor(baseURL string, client *http.Client) Connector {
	return newHTTPConnector(model.PlatformTripAdvisor, tripadvisorAPI{}, baseURL, client)
}

func (tripadvisorAPI) location(c model.Credentials) string {
	return "/location/" + url.PathEscape(c.LocationID)
}

func (t tripadvisorAPI) post(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, t.location(c) + "/reviews"}, map[string]any{
		"title":  v.Title,
		"text":   v.FormattedText,
		"rating": v.Rating,
	}
}

func (t tripadvisorAPI) reply(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, t.location(c) + "/reviews/" + url.PathEscape(v.InReplyTo) + "/responses"},
		map[string]string{"text": v.FormattedText}
}

// TripAdvisor returns numeric ids.
func (tripadvisorAPI) postedID(body []byte, _ model.PlatformVariant) (string, error) {
	resp, err := decodeJSON[struct {
		ID int64 `json:"id"`
	}](body)
	if err != nil {
		return "", err
	}
	if resp.ID == 0 {
		return "", fmt.Errorf("tripadvisor response has no id")
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

func (t tripadvisorAPI) pull(c model.Credentials) endpoint {
	return endpoint{http.MethodGet, t.location(c) + "/reviews?limit=50"}
}

func (tripadvisorAPI) decodePull(body []byte) ([]model.InboundReview, error) {
	resp, err := decodeJSON[struct {
		Data []struct {
			ID     int64  `json:"id"`
			Title  string `json:"title"`
			Text   string `json:"text"`
			Rating int    `json:"rating"`
			User   struct {
				Username string `json:"username"`
			} `json:"user"`
			PublishedDate string `json:"published_date"`
		} `json:"data"`
	}](body)
	if err != nil {
		return nil, err
	}

	out := make([]model.InboundReview, 0, len(resp.Data))
	for _, r := range resp.Data {
		text := r.Text
		if r.Title != "" {
			text = r.Title + ". " + r.Text
		}
		out = append(out, model.InboundReview{
			ExternalID: strconv.FormatInt(r.ID, 10),
			Author:     r.User.Username,
			Text:       text,
			Rating:     r.Rating,
			ReceivedAt: parseTime(r.PublishedDate),
		})
	}
	return out, nil
}
