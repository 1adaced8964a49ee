package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark record keys
	KeyPrefixBookmark = "smartmark:bookmark:"
	// KeyPrefixOwner is the prefix for per-owner index keys
	KeyPrefixOwner = "smartmark:owner:"
	// KeyPrefixSession is the prefix for session keys
	KeyPrefixSession = "smartmark:session:"
	// ChannelPrefixFeed is the prefix for per-owner change feed channels
	ChannelPrefixFeed = "smartmark:feed:"
	// ChannelPrefixSession is the prefix for per-session invalidation channels
	ChannelPrefixSession = "smartmark:session-events:"
)

// BookmarkKey returns the Redis key for a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerBookmarksKey returns the sorted set of bookmark IDs owned by ownerID,
// scored by creation time in milliseconds
func OwnerBookmarksKey(ownerID string) string {
	return KeyPrefixOwner + ownerID + ":bookmarks"
}

// FeedChannel returns the Pub/Sub channel carrying change events for ownerID
func FeedChannel(ownerID string) string {
	return ChannelPrefixFeed + ownerID
}

// SessionKey returns the Redis key for a session token
func SessionKey(token string) string {
	return KeyPrefixSession + token
}

// SessionChannel returns the Pub/Sub channel announcing identity changes for a session token
func SessionChannel(token string) string {
	return ChannelPrefixSession + token
}
