package connector

import (
	"fmt"
	"net/http"
	"net/url"

	"voxreview.app/relay/internal/model"
)

type yelpAPI struct{}

func NewYelp(baseURL string, client *http.Client) Connector {
	return newHTTPConnector(model.PlatformYelp, yelpAPI{}, baseURL, client)
}

func (yelpAPI) business(c model.Credentials) string {
	return "/v3/businesses/" + url.PathEscape(c.LocationID)
}

func (y yelpAPI) post(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, y.business(c) + "/reviews"}, map[string]any{
		"text":   v.FormattedText,
		"rating": v.Rating,
	}
}

func (y yelpAPI) reply(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, y.business(c) + "/reviews/" + url.PathEscape(v.InReplyTo) + "/public_response"},
		map[string]string{"text": v.FormattedText}
}

func (yelpAPI) postedID(body []byte, _ model.PlatformVariant) (string, error) {
	resp, err := decodeJSON[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("yelp response has no id")
	}
	return resp.ID, nil
}

func (y yelpAPI) pull(c model.Credentials) endpoint {
	return endpoint{http.MethodGet, y.business(c) + "/reviews?sort_by=newest&limit=50"}
}

func (yelpAPI) decodePull(body []byte) ([]model.InboundReview, error) {
	resp, err := decodeJSON[struct {
		Reviews []struct {
			ID     string `json:"id"`
			Text   string `json:"text"`
			Rating int    `json:"rating"`
			User   struct {
				Name string `json:"name"`
			} `json:"user"`
			TimeCreated string `json:"time_created"`
		} `json:"reviews"`
	}](body)
	if err != nil {
		return nil, err
	}

	out := make([]model.InboundReview, 0, len(resp.Reviews))
	for _, r := range resp.Reviews {
		out = append(out, model.InboundReview{
			ExternalID: r.ID,
			Author:     r.User.Name,
			Text:       r.Text,
			Rating:     r.Rating,
			ReceivedAt: parseTime(r.TimeCreated, "2006-01-02 15:04:05"),
		})
	}
	return out, nil
}
