// Package operators is the query vocabulary for the feed log: ready-made
// predicates for the fields every client filters on, each carrying the
// index hint that field is served by.
package operators

import (
	"context"
	"fmt"

	"feedquery/internal/index"
	"feedquery/internal/msg"
	"feedquery/internal/predicate"
	"feedquery/internal/seek"
)

// Index types. These are the names executors maintain indexes under.
const (
	IndexKeys         = "keys"
	IndexSeq          = "seq"
	IndexType         = "value_content_type"
	IndexAuthor       = "value_author"
	IndexChannel      = "value_content_channel"
	IndexVoteLink     = "value_content_vote_link"
	IndexContact      = "value_content_contact"
	IndexAbout        = "value_content_about"
	IndexMentionsLink = "value_content_mentions_link"
	IndexRoot         = "value_content_root"
	IndexFork         = "value_content_fork"
	IndexBranch       = "value_content_branch"
	IndexMetaPrivate  = "meta_private"
	IndexMeta         = "meta"
)

// Reference prefixes skip the sigil and keep 32 bytes of base64, enough to
// tell references apart at a fraction of the full key length.
const (
	RefPrefixLength = 32
	RefPrefixOffset = 1
)

// AuthorOptions tunes Author.
type AuthorOptions struct {
	// Dedicated asks for a dedicated full-value hash index instead of the
	// shared prefix index. Worth it for authors queried repeatedly.
	Dedicated bool
}

func refHint(indexType string) predicate.IndexHint {
	return predicate.Prefix(indexType, RefPrefixLength, RefPrefixOffset, true)
}

// Type matches messages whose content type is value.
func Type(value string) predicate.Expr {
	return predicate.Equal(seek.Type, []byte(value), predicate.Full(IndexType))
}

// Author matches messages published by feed.
func Author(feed string, opts ...AuthorOptions) predicate.Expr {
	var o AuthorOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Dedicated {
		return predicate.Equal(seek.Author, []byte(feed), predicate.Hash(IndexAuthor))
	}
	return predicate.Equal(seek.Author, []byte(feed),
		predicate.Prefix(IndexAuthor, RefPrefixLength, RefPrefixOffset, false))
}

// Channel matches messages posted to channel.
func Channel(channel string) predicate.Expr {
	return predicate.Equal(seek.Channel, []byte(channel), predicate.Full(IndexChannel))
}

// VotesFor matches votes on the message msgKey.
func VotesFor(msgKey string) predicate.Expr {
	return predicate.And(
		Type("vote"),
		predicate.Equal(seek.VoteLink, []byte(msgKey), refHint(IndexVoteLink)),
	)
}

// Contact matches contact messages about feed (follows, blocks).
func Contact(feed string) predicate.Expr {
	return predicate.And(
		Type("contact"),
		predicate.Equal(seek.Contact, []byte(feed), refHint(IndexContact)),
	)
}

// About matches about messages describing feed.
func About(feed string) predicate.Expr {
	return predicate.And(
		Type("about"),
		predicate.Equal(seek.About, []byte(feed), refHint(IndexAbout)),
	)
}

// Mentions matches messages whose mentions link to ref.
func Mentions(ref string) predicate.Expr {
	return predicate.Includes(seek.Mentions, seek.PluckLink, []byte(ref), predicate.Full(IndexMentionsLink))
}

// HasRoot matches replies in the thread rooted at msgKey.
func HasRoot(msgKey string) predicate.Expr {
	return predicate.Equal(seek.Root, []byte(msgKey), refHint(IndexRoot))
}

// HasFork matches messages forked from msgKey.
func HasFork(msgKey string) predicate.Expr {
	return predicate.Equal(seek.Fork, []byte(msgKey), refHint(IndexFork))
}

// HasBranch matches messages branching from msgKey.
func HasBranch(msgKey string) predicate.Expr {
	return predicate.Equal(seek.Branch, []byte(msgKey), refHint(IndexBranch))
}

// IsRoot matches messages that start a thread: they carry no root.
func IsRoot() predicate.Expr {
	return predicate.Absent(seek.Root, predicate.Full(IndexRoot))
}

// IsPrivate matches messages flagged private in their meta block.
func IsPrivate() predicate.Expr {
	return predicate.Equal(seek.Private, []byte{msg.PrivateFlag}, predicate.Full(IndexMetaPrivate))
}

// IsPublic matches messages with no meta block.
func IsPublic() predicate.Expr {
	return predicate.Absent(seek.Meta, predicate.Full(IndexMeta))
}

// Key matches the single message whose key is msgKey. The key is resolved
// to the message's log offset through the keys index, which must first
// catch up with the log.
func Key(msgKey string) predicate.Expr {
	return predicate.Deferred(predicate.DeferredSpec{
		Index: IndexKeys,
		Key:   msgKey,
		Field: seek.Offset,
		Hint:  predicate.Hash(IndexSeq),
		Resolve: func(ctx context.Context, reg index.Registry) ([]byte, error) {
			offset, err := reg.Lookup(ctx, IndexKeys, []byte(msgKey))
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", msgKey, err)
			}
			return offset, nil
		},
	})
}
