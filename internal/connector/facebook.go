package connector

import (
	"fmt"
	"net/http"
	"net/url"

	"voxreview.app/relay/internal/model"
)

type facebookAPI struct{}

func NewFacebook(baseURL string, client *http.Client) Connector {
	return newHTTPConnector(model.PlatformFacebook, facebookAPI{}, baseURL, client)
}

// Facebook has recommendations instead of stars.
func (facebookAPI) post(v model.PlatformVariant, c model.Credentials) (endpoint, any) {
	kind := "positive"
	if v.Rating > 0 && v.Rating <= 2 {
		kind = "negative"
	}
	return endpoint{http.MethodPost, "/" + url.PathEscape(c.LocationID) + "/recommendations"}, map[string]string{
		"review_text":         v.FormattedText,
		"recommendation_type": kind,
	}
}

func (facebookAPI) reply(v model.PlatformVariant, _ model.Credentials) (endpoint, any) {
	return endpoint{http.MethodPost, "/" + url.PathEscape(v.InReplyTo) + "/comments"},
		map[string]string{"message": v.FormattedText}
}

func (facebookAPI) postedID(body []byte, _ model.PlatformVariant) (string, error) {
	resp, err := decodeJSON[struct {
		ID string `json:"id"`
	}](body)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("facebook response has no id")
	}
	return resp.ID, nil
}

func (facebookAPI) pull(c model.Credentials) endpoint {
	return endpoint{http.MethodGet, "/" + url.PathEscape(c.LocationID) +
		"/ratings?fields=open_graph_story,review_text,recommendation_type,reviewer,created_time"}
}

func (facebookAPI) decodePull(body []byte) ([]model.InboundReview, error) {
	resp, err := decodeJSON[struct {
		Data []struct {
			Story struct {
				ID string `json:"id"`
			} `json:"open_graph_story"`
			ReviewText         string `json:"review_text"`
			RecommendationType string `json:"recommendation_type"`
			Reviewer           struct {
				Name string `json:"name"`
			} `json:"reviewer"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}](body)
	if err != nil {
		return nil, err
	}

	out := make([]model.InboundReview, 0, len(resp.Data))
	for _, r := range resp.Data {
		rating := 0
		switch r.RecommendationType {
		case "positive":
			rating = 5
		case "negative":
			rating = 1
		}
		out = append(out, model.InboundReview{
			ExternalID: r.Story.ID,
			Author:     r.Reviewer.Name,
			Text:       r.ReviewText,
			Rating:     rating,
			ReceivedAt: parseTime(r.CreatedTime, "2006-01-02T15:04:05-0700"),
		})
	}
	return out, nil
}
