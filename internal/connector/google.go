package connector

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"voxreview.app/relay/internal/model"
)

type googleAPI struct{}

func NewGoogle(baseURL string, client *http.Client) Connector {
	return newHTTPConnector(model.PlatformGoogle, googleAPI{}, baseURL, client)
}

func (googleAPI) location(c model.Credentials) string {
	return fmt.Sprintf("/v4/accounts/%s/locations/%s", url.PathEscape(c.AccountID), url.PathEscape(c.LocationID))
}

func (g googleAPI) post(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, g.location(c) + "/reviews"}, map[string]any{
		"comment":    v.FormattedText,
		"starRating": googleStars[v.Rating],
	}
}

func (g googleAPI) reply(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPut, g.location(c) + "/reviews/" + url.PathEscape(v.InReplyTo) + "/reply"},
		map[string]string{"comment": v.FormattedText}
}

func (googleAPI) postedID(body []byte, v model.PlatformVariant) (string, error) {
	// Replies are addressed by the review they answer.
	if v.InReplyTo != "" {
		return v.InReplyTo + "/reply", nil
	}
	resp, err := decodeJSON[struct {
		Name string `json:"name"`
	}](body)
	if err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("google response has no review name")
	}
	return resp.Name[strings.LastIndex(resp.Name, "/")+1:], nil
}

func (g googleAPI) pull(c model.Credentials) endpoint {
	return endpoint{http.MethodGet, g.location(c) + "/reviews?orderBy=updateTime%20desc&pageSize=50"}
}

var googleStars = map[int]string{1: "ONE", 2: "TWO", 3: "THREE", 4: "FOUR", 5: "FIVE"}

func (googleAPI) decodePull(body []byte) ([]model.InboundReview, error) {
	resp, err := decodeJSON[struct {
		Reviews []struct {
			ReviewID   string `json:"reviewId"`
			Comment    string `json:"comment"`
			StarRating string `json:"starRating"`
			Reviewer   struct {
				DisplayName string `json:"displayName"`
			} `json:"reviewer"`
			UpdateTime string `json:"updateTime"`
		} `json:"reviews"`
	}](body)
	if err != nil {
		return nil, err
	}

	out := make([]model.InboundReview, 0, len(resp.Reviews))
	for _, r := range resp.Reviews {
		rating := 0
		for n, name := range googleStars {
			if name == r.StarRating {
				rating = n
			}
		}
		out = append(out, model.InboundReview{
			ExternalID: r.ReviewID,
			Author:     r.Reviewer.DisplayName,
			Text:       r.Comment,
			Rating:     rating,
			ReceivedAt: parseTime(r.UpdateTime),
		})
	}
	return out, nil
}
