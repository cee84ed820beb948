package anthropic

// BuildCachedSystemBlocks constructs system content blocks with an ephemeral
// cache breakpoint. The vision system prompt is identical on every call, so
// a warm prompt cache bills it at the cache-read rate.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}
