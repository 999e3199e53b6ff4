package anthropic

// BuildCachedSystemBlocks wraps a system instruction in a single block with
// an ephemeral cache breakpoint. Correction passes resend the same system
// instruction, so later calls within ttl read it from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
