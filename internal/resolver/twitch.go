package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
)

const gqlEndpoint = "https://gql.twitch.tv/gql"

// accessTokenQuery is the persisted GraphQL query Twitch's own web player
// uses to mint a per-channel playback access token; it's a stable, widely
// mirrored query hash, not a secret.
const accessTokenQuery = `{"operationName":"PlaybackAccessToken","variables":{"isLive":true,"login":%q,"isVod":false,"vodID":"","playerType":"site"},"extensions":{"persistedQuery":{"version":1,"sha256Hash":"0828119ded1c13477966434e15800ff57ddacf13ba1911c129dc2200705b0712"}}}`

// TwitchResolver resolves a channel directly against Twitch's own usher
// endpoint, bypassing any playlist proxy. It is the fallback every
// ProxyingResolver eventually reaches.
type TwitchResolver struct {
	client   fetch.Client
	clientID string
}

func NewTwitchResolver(client fetch.Client, clientID string) *TwitchResolver {
	return &TwitchResolver{client: client, clientID: clientID}
}

type accessTokenResponse struct {
	Data struct {
		StreamPlaybackAccessToken struct {
			Value     string `json:"value"`
			Signature string `json:"signature"`
		} `json:"streamPlaybackAccessToken"`
	} `json:"data"`
}

func (t *TwitchResolver) ResolveVariant(ctx context.Context, channel string, _ Options) (Result, error) {
	headers := map[string]string{
		"Client-Id":    t.clientID,
		"Content-Type": "application/json",
	}

	status, body, err := t.client.FetchText(ctx, gqlEndpoint+"?body="+url.QueryEscape(fmt.Sprintf(accessTokenQuery, channel)), headers)
	if err != nil {
		return Result{}, fmt.Errorf("resolver: access token request: %w", err)
	}
	if status >= 300 {
		return Result{}, fmt.Errorf("resolver: access token request returned status %d", status)
	}

	var parsed accessTokenResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Result{}, fmt.Errorf("resolver: decode access token response: %w", err)
	}
	token := parsed.Data.StreamPlaybackAccessToken
	if token.Value == "" || token.Signature == "" {
		return Result{}, fmt.Errorf("resolver: channel %q is not live or returned no playback token", channel)
	}

	variantURL := fmt.Sprintf(
		"https://usher.ttvnw.net/api/channel/hls/%s.m3u8?client_id=%s&token=%s&sig=%s&allow_source=true&fast_bread=true",
		url.PathEscape(channel), url.QueryEscape(t.clientID), url.QueryEscape(token.Value), url.QueryEscape(token.Signature),
	)

	return Result{VariantURL: variantURL, DisplayName: channel}, nil
}
