package resolver

import (
	"context"
	"errors"
	"testing"
)

type stubResolver struct {
	name   string
	result Result
	err    error
}

func (s *stubResolver) ResolveVariant(ctx context.Context, channel string, opts Options) (Result, error) {
	return s.result, s.err
}

func TestProxyingResolver_FallsBackWhenAllProxiesFail(t *testing.T) {
	p1 := &stubResolver{err: errors.New("proxy1 down")}
	p2 := &stubResolver{err: errors.New("proxy2 down")}
	fallback := &stubResolver{result: Result{VariantURL: "https://usher.example/x.m3u8", DisplayName: "direct"}}

	r := NewProxyingResolver([]ProxyEndpoint{{Name: "p1", Resolver: p1}, {Name: "p2", Resolver: p2}}, fallback, nil)

	res, err := r.ResolveVariant(context.Background(), "somechannel", Options{})
	if err != nil {
		t.Fatalf("ResolveVariant returned error: %v", err)
	}
	if res.VariantURL != "https://usher.example/x.m3u8" {
		t.Fatalf("VariantURL = %q, want fallback URL", res.VariantURL)
	}
}

func TestProxyingResolver_FirstSuccessfulProxyWins(t *testing.T) {
	p1 := &stubResolver{err: errors.New("proxy1 down")}
	p2 := &stubResolver{result: Result{VariantURL: "https://proxy2.example/x.m3u8"}}
	fallback := &stubResolver{result: Result{VariantURL: "https://usher.example/x.m3u8"}}

	r := NewProxyingResolver([]ProxyEndpoint{{Name: "p1", Resolver: p1}, {Name: "p2", Resolver: p2}}, fallback, nil)

	res, err := r.ResolveVariant(context.Background(), "somechannel", Options{})
	if err != nil {
		t.Fatalf("ResolveVariant returned error: %v", err)
	}
	if res.VariantURL != "https://proxy2.example/x.m3u8" {
		t.Fatalf("VariantURL = %q, want proxy2's URL", res.VariantURL)
	}
}

func TestProxyingResolver_NeverProxyChannelsSkipsStraightToFallback(t *testing.T) {
	p1 := &stubResolver{result: Result{VariantURL: "https://proxy1.example/x.m3u8"}}
	fallback := &stubResolver{result: Result{VariantURL: "https://usher.example/x.m3u8"}}

	r := NewProxyingResolver([]ProxyEndpoint{{Name: "p1", Resolver: p1}}, fallback, nil)

	opts := Options{NeverProxyChannels: map[string]struct{}{"exempt": {}}}
	res, err := r.ResolveVariant(context.Background(), "exempt", opts)
	if err != nil {
		t.Fatalf("ResolveVariant returned error: %v", err)
	}
	if res.VariantURL != "https://usher.example/x.m3u8" {
		t.Fatalf("VariantURL = %q, want fallback URL despite a working proxy", res.VariantURL)
	}
}
