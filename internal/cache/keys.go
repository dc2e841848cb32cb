package cache

import "fmt"

// Key builders for the two-tier cache. Keys are shared verbatim between L1
// and L2 so invalidation and lookups always agree.
func TopKKey(k int) string               { return fmt.Sprintf("top:%d", k) }
func ScoreKey(identity string) string    { return "score:" + identity }
func RateLimitKey(scope, id string) string { return fmt.Sprintf("rl:%s:%s", scope, id) }
func NonceSeenKey(nonce string) string   { return "nonce:seen:" + nonce }
func TotalUsersKey() string              { return "total:users" }
