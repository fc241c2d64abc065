package router

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListLimit = 5
	maxListLimit     = 20
)

// positive integers only; a zero id does not match
const idPattern = `0*([1-9][0-9]*)`

type request struct {
	senderID   string
	senderName string
	args       []string
}

type command struct {
	name    string
	pattern *regexp.Regexp
	run     func(r *Router, ctx context.Context, req request) error
}

func cmd(name, pattern string, run func(r *Router, ctx context.Context, req request) error) command {
	return command{name: name, pattern: regexp.MustCompile(`(?is)^` + pattern + `$`), run: run}
}

// commands are tried in order; the first match wins.
var commands = []command{
	cmd("help", `!help\s*`, (*Router).help),
	cmd("info", `!info\s*`, (*Router).info),
	cmd("post", `!post\s+(.+)`, (*Router).post),
	cmd("list", `!list(?:\s+(\d+))?\s*`, (*Router).list),
	cmd("view", `!view\s+`+idPattern+`\s*`, (*Router).view),
	cmd("comment", `!comment\s+`+idPattern+`\s+(.+)`, (*Router).comment),
	cmd("subscribe_all", `!subscribe\s+all\s*`, (*Router).subscribeAll),
	cmd("subscribe", `!subscribe\s+`+idPattern+`\s*`, (*Router).subscribe),
	cmd("unsubscribe_all", `!unsubscribe\s+all\s*`, (*Router).unsubscribeAll),
	cmd("unsubscribe", `!unsubscribe\s+`+idPattern+`\s*`, (*Router).unsubscribe),
	cmd("subscriptions", `!subscriptions\s*`, (*Router).subscriptions),
	cmd("status", `!status\s*`, (*Router).status),
}

// match returns the first command whose grammar accepts text, with its
// captured arguments.
func match(text string) (*command, []string) {
	for i := range commands {
		c := &commands[i]
		if m := c.pattern.FindStringSubmatch(text); m != nil {
			return c, m[1:]
		}
	}
	return nil, nil
}

func parseID(s string) (uint, bool) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (r *Router) help(ctx context.Context, req request) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Commands:\n", r.cfg.BoardName)
	b.WriteString("!post <message> - Create a new post\n")
	b.WriteString("!list [n] - Show n recent posts (default: 5)\n")
	b.WriteString("!view <post_id> - View a post and its comments\n")
	b.WriteString("!comment <post_id> <message> - Comment on a post\n")
	b.WriteString("!subscribe all|<post_id> - Get notified of new posts or comments\n")
	b.WriteString("!unsubscribe all|<post_id> - Stop notifications\n")
	b.WriteString("!subscriptions - List your subscriptions\n")
	b.WriteString("!info - About this board\n")
	b.WriteString("!status - Board statistics\n")
	b.WriteString("!help - Show this help message")
	r.reply(ctx, req.senderID, b.String())
	return nil
}

func (r *Router) info(ctx context.Context, req request) error {
	oldest, err := r.board.GetOldestVisiblePost(ctx)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve board info. Please try again later.")
	}

	retention := time.Duration(r.cfg.ExpirationDays) * 24 * time.Hour

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", r.cfg.BoardName, r.cfg.ShortName)
	fmt.Fprintf(&b, "Posts expire after %d days.\n", r.cfg.ExpirationDays)
	switch {
	case oldest == nil:
		b.WriteString("Next wipe: no posts to expire.\n")
	default:
		remaining := oldest.CreatedAt.Add(retention).Sub(r.now())
		if remaining <= 0 {
			fmt.Fprintf(&b, "Next wipe: post #%d is due at the next sweep.\n", oldest.ID)
		} else {
			fmt.Fprintf(&b, "Next wipe: post #%d expires in %s.\n", oldest.ID, formatRemaining(remaining))
		}
	}
	b.WriteString("Send !help for available commands.")
	r.reply(ctx, req.senderID, b.String())
	return nil
}

func (r *Router) post(ctx context.Context, req request) error {
	id, err := r.board.CreatePost(ctx, req.args[0], req.senderID, req.senderName)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to create post. Please try again later.")
	}
	r.reply(ctx, req.senderID, fmt.Sprintf("Post #%d created successfully!", id))
	return nil
}

func (r *Router) list(ctx context.Context, req request) error {
	limit := defaultListLimit
	if req.args[0] != "" {
		n, err := strconv.Atoi(req.args[0])
		if err != nil || n < 1 || n > maxListLimit {
			r.reply(ctx, req.senderID, fmt.Sprintf("Please specify a number between 1 and %d.", maxListLimit))
			return errRejected
		}
		limit = n
	}

	posts, err := r.board.GetRecentPosts(ctx, limit)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve posts. Please try again later.")
	}
	if len(posts) == 0 {
		r.reply(ctx, req.senderID, "No posts found.")
		return nil
	}

	now := r.now()
	var b strings.Builder
	b.WriteString("Recent posts:\n")
	for _, p := range posts {
		fmt.Fprintf(&b, "#%d: %s (%s, %s)\n", p.ID, truncate(p.Content, listPreviewLength), p.Author(), TimeAgo(now, p.CreatedAt))
	}
	r.reply(ctx, req.senderID, b.String())
	return nil
}

func (r *Router) view(ctx context.Context, req request) error {
	id, ok := parseID(req.args[0])
	if !ok {
		r.reply(ctx, req.senderID, fmt.Sprintf("Post #%s not found.", req.args[0]))
		return errRejected
	}

	post, err := r.board.GetPost(ctx, id)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve post. Please try again later.")
	}
	comments, err := r.board.GetCommentsForPost(ctx, id)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve post. Please try again later.")
	}

	now := r.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Post #%d: %s\n", post.ID, post.Content)
	fmt.Fprintf(&b, "By: %s\n", post.Author())
	fmt.Fprintf(&b, "Posted: %s\n\n", post.CreatedAt.UTC().Format(viewTimeLayout))
	if len(comments) == 0 {
		b.WriteString("No comments yet.")
	} else {
		b.WriteString("Comments:\n")
		for _, c := range comments {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.Author(), TimeAgo(now, c.CreatedAt), c.Content)
		}
	}
	r.reply(ctx, req.senderID, b.String())
	return nil
}

func (r *Router) comment(ctx context.Context, req request) error {
	id, ok := parseID(req.args[0])
	if !ok {
		r.reply(ctx, req.senderID, fmt.Sprintf("Post #%s not found.", req.args[0]))
		return errRejected
	}

	if _, err := r.board.CreateComment(ctx, id, req.args[1], req.senderID, req.senderName); err != nil {
		return r.fail(ctx, req, err, "Failed to create comment. Please try again later.")
	}
	r.reply(ctx, req.senderID, fmt.Sprintf("Comment added to post #%d", id))
	return nil
}

func (r *Router) subscribeAll(ctx context.Context, req request) error {
	created, err := r.board.SubscribeToAllPosts(ctx, req.senderID)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to subscribe. Please try again later.")
	}
	if created {
		r.reply(ctx, req.senderID, "Subscribed to all new posts.")
	} else {
		r.reply(ctx, req.senderID, "You are already subscribed to all posts.")
	}
	return nil
}

func (r *Router) subscribe(ctx context.Context, req request) error {
	id, ok := parseID(req.args[0])
	if !ok {
		r.reply(ctx, req.senderID, fmt.Sprintf("Post #%s not found.", req.args[0]))
		return errRejected
	}

	created, err := r.board.SubscribeToPost(ctx, req.senderID, id)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to subscribe. Please try again later.")
	}
	if created {
		r.reply(ctx, req.senderID, fmt.Sprintf("Subscribed to comments on post #%d.", id))
	} else {
		r.reply(ctx, req.senderID, fmt.Sprintf("You are already subscribed to post #%d.", id))
	}
	return nil
}

func (r *Router) unsubscribeAll(ctx context.Context, req request) error {
	n, err := r.board.UnsubscribeFromAll(ctx, req.senderID)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to unsubscribe. Please try again later.")
	}
	switch n {
	case 0:
		r.reply(ctx, req.senderID, "You have no subscriptions.")
	case 1:
		r.reply(ctx, req.senderID, "Removed 1 subscription.")
	default:
		r.reply(ctx, req.senderID, fmt.Sprintf("Removed %d subscriptions.", n))
	}
	return nil
}

func (r *Router) unsubscribe(ctx context.Context, req request) error {
	id, ok := parseID(req.args[0])
	if !ok {
		r.reply(ctx, req.senderID, fmt.Sprintf("You are not subscribed to post #%s.", req.args[0]))
		return errRejected
	}

	removed, err := r.board.UnsubscribeFromPost(ctx, req.senderID, id)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to unsubscribe. Please try again later.")
	}
	if removed {
		r.reply(ctx, req.senderID, fmt.Sprintf("Unsubscribed from post #%d.", id))
	} else {
		r.reply(ctx, req.senderID, fmt.Sprintf("You are not subscribed to post #%d.", id))
	}
	return nil
}

func (r *Router) subscriptions(ctx context.Context, req request) error {
	subs, err := r.board.GetUserSubscriptions(ctx, req.senderID)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve subscriptions. Please try again later.")
	}
	if len(subs) == 0 {
		r.reply(ctx, req.senderID, "You have no subscriptions.")
		return nil
	}

	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, s := range subs {
		if s.IsBlanket() {
			b.WriteString("- All new posts\n")
		} else if s.PostID != nil {
			fmt.Fprintf(&b, "- Comments on post #%d\n", *s.PostID)
		}
	}
	r.reply(ctx, req.senderID, b.String())
	return nil
}

func (r *Router) status(ctx context.Context, req request) error {
	stats, err := r.board.Stats(ctx)
	if err != nil {
		return r.fail(ctx, req, err, "Failed to retrieve status. Please try again later.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s status:\n", r.cfg.BoardName)
	fmt.Fprintf(&b, "Active posts: %d\n", stats.ActivePosts)
	fmt.Fprintf(&b, "Total posts: %d\n", stats.TotalPosts)
	fmt.Fprintf(&b, "Comments: %d\n", stats.TotalComments)
	fmt.Fprintf(&b, "Subscribers to all posts: %d\n", stats.BlanketSubscribers)
	fmt.Fprintf(&b, "Uptime: %s", formatRemaining(r.now().Sub(r.startedAt)))
	r.reply(ctx, req.senderID, b.String())
	return nil
}
