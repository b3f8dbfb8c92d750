package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
)

// PlaylistProxyResolver resolves a channel against a third-party playlist
// proxy rather than Twitch directly, for ad avoidance. The
// proxy is expected to speak the same access-token-then-usher-URL shape as
// Twitch's own GQL endpoint, just fronted at a different base URL — a common
// pattern for these intermediaries, which exist precisely to sit in front of
// that call and strip ads before handing back the variant URL.
type PlaylistProxyResolver struct {
	client   fetch.Client
	baseURL  string
	clientID string
}

// NewPlaylistProxyResolver builds a resolver that queries baseURL instead of
// Twitch's gql.twitch.tv, otherwise following the same access-token protocol.
func NewPlaylistProxyResolver(client fetch.Client, baseURL, clientID string) *PlaylistProxyResolver {
	return &PlaylistProxyResolver{client: client, baseURL: baseURL, clientID: clientID}
}

func (p *PlaylistProxyResolver) ResolveVariant(ctx context.Context, channel string, _ Options) (Result, error) {
	headers := map[string]string{
		"Client-Id":    p.clientID,
		"Content-Type": "application/json",
	}

	status, body, err := p.client.FetchText(ctx, p.baseURL+"?body="+url.QueryEscape(fmt.Sprintf(accessTokenQuery, channel)), headers)
	if err != nil {
		return Result{}, fmt.Errorf("resolver: proxy access token request: %w", err)
	}
	if status >= 300 {
		return Result{}, fmt.Errorf("resolver: proxy access token request returned status %d", status)
	}

	var parsed accessTokenResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return Result{}, fmt.Errorf("resolver: decode proxy access token response: %w", err)
	}
	token := parsed.Data.StreamPlaybackAccessToken
	if token.Value == "" || token.Signature == "" {
		return Result{}, fmt.Errorf("resolver: proxy reports channel %q is not live", channel)
	}

	variantURL := fmt.Sprintf(
		"%s/api/channel/hls/%s.m3u8?client_id=%s&token=%s&sig=%s&allow_source=true&fast_bread=true",
		p.baseURL, url.PathEscape(channel), url.QueryEscape(p.clientID), url.QueryEscape(token.Value), url.QueryEscape(token.Signature),
	)

	return Result{VariantURL: variantURL, DisplayName: channel}, nil
}
