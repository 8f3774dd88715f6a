package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"mailsession/internal/flag"
	"mailsession/internal/mailbox"
	"mailsession/internal/selected"
	"mailsession/internal/sequence"
)

// BlobStore offloads message literals above Threshold to an external
// object store (internal/backend/blob), keeping only a reference row
// in the messages table. A nil BlobStore keeps every literal inline.
type BlobStore interface {
	Put(ctx context.Context, literal []byte) (key string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Set is a SQLite-backed mailbox.Set for a single authenticated user:
// one Set owns one *sql.DB, matching spec §4.1's single
// mailbox-set-per-session contract.
type Set struct {
	db        *sql.DB
	delimiter string
	blobs     BlobStore
	threshold int

	mu     sync.Mutex
	byName map[string]*Data // selSet cache, keyed by mailbox name
}

// Config configures a Set.
type Config struct {
	Delimiter string
	Blobs     BlobStore // optional
	Threshold int       // literal size above which Blobs is used; 0 disables offload
}

// NewSet wraps db (already migrated by schema.go's Open) as a mailbox.Set.
func NewSet(db *sql.DB, cfg Config) *Set {
	delim := cfg.Delimiter
	if delim == "" {
		delim = "/"
	}
	s := &Set{
		db:        db,
		delimiter: delim,
		blobs:     cfg.Blobs,
		threshold: cfg.Threshold,
		byName:    make(map[string]*Data),
	}
	return s
}

func (s *Set) Delimiter() string { return s.delimiter }

func (s *Set) GetMailbox(ctx context.Context, name string, tryCreate bool) (mailbox.Data, error) {
	s.mu.Lock()
	if d, ok := s.byName[name]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	var id int64
	var uidValidity uint64
	var uidNext uint32
	var readonly bool
	err := s.db.QueryRowContext(ctx,
		`SELECT id, uid_validity, uid_next, readonly FROM mailboxes WHERE name = ?`, name,
	).Scan(&id, &uidValidity, &uidNext, &readonly)
	switch {
	case err == sql.ErrNoRows:
		if !tryCreate {
			return nil, fmt.Errorf("%s: %w", name, mailbox.ErrNotFound)
		}
		if err := s.insertMailbox(ctx, name); err != nil {
			return nil, err
		}
		return s.GetMailbox(ctx, name, false)
	case err != nil:
		return nil, fmt.Errorf("get mailbox %s: %w", name, err)
	}

	d := &Data{
		set:         s,
		id:          id,
		name:        name,
		uidValidity: uidValidity,
		nextUID:     uidNext,
		readonly:    readonly,
		permFlags:   flag.NewSet(flag.Answered, flag.Flagged, flag.Deleted, flag.Seen, flag.Draft),
		sessFlags:   flag.NewSet(flag.Recent),
		selSet:      selected.NewSet(),
	}
	s.mu.Lock()
	s.byName[name] = d
	s.mu.Unlock()
	return d, nil
}

func (s *Set) insertMailbox(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mailboxes (name, uid_validity, uid_next) VALUES (?, ?, ?)`,
		name, uint64(time.Now().Unix()), 1,
	)
	if err != nil {
		return fmt.Errorf("insert mailbox %s: %w", name, err)
	}
	return nil
}

func (s *Set) ListMailboxes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM mailboxes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan mailbox name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Set) ListSubscribed(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM mailboxes WHERE subscribed = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan subscribed name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Set) AddMailbox(ctx context.Context, name string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM mailboxes WHERE name = ?`, name).Scan(&exists); err == nil {
		return fmt.Errorf("%s: already exists", name)
	}
	return s.insertMailbox(ctx, name)
}

func (s *Set) DeleteMailbox(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mailboxes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete mailbox %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, mailbox.ErrNotFound)
	}
	s.mu.Lock()
	delete(s.byName, name)
	s.mu.Unlock()
	return nil
}

func (s *Set) RenameMailbox(ctx context.Context, from, to string) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM mailboxes WHERE name = ?`, to).Scan(&exists); err == nil {
		return fmt.Errorf("%s: already exists", to)
	}
	// Renaming assigns a fresh uid_validity: the moved mailbox's
	// messages lose their UID identity (spec §3).
	res, err := s.db.ExecContext(ctx,
		`UPDATE mailboxes SET name = ?, uid_validity = ? WHERE name = ?`,
		to, uint64(time.Now().Unix()), from,
	)
	if err != nil {
		return fmt.Errorf("rename mailbox %s: %w", from, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", from, mailbox.ErrNotFound)
	}
	s.mu.Lock()
	delete(s.byName, from)
	s.mu.Unlock()
	return nil
}

func (s *Set) SetSubscribed(ctx context.Context, name string, subscribed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE mailboxes SET subscribed = ? WHERE name = ?`, subscribed, name)
	if err != nil {
		return fmt.Errorf("set subscribed %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", name, mailbox.ErrNotFound)
	}
	return nil
}

// Data is one SQLite-backed mailbox.
type Data struct {
	set *Set
	id  int64

	mu          sync.Mutex
	name        string
	uidValidity uint64
	nextUID     uint32
	readonly    bool
	permFlags   flag.Set
	sessFlags   flag.Set
	selSet      *selected.Set
}

func (d *Data) Name() string               { return d.name }
func (d *Data) UIDValidity() uint64        { return d.uidValidity }
func (d *Data) NextUID() uint32            { return d.nextUID }
func (d *Data) ReadOnly() bool             { return d.readonly }
func (d *Data) PermanentFlags() flag.Set   { return d.permFlags }
func (d *Data) SessionFlags() flag.Set     { return d.sessFlags }
func (d *Data) SelectedSet() *selected.Set { return d.selSet }

func (d *Data) Snapshot(ctx context.Context) (mailbox.Snapshot, error) {
	var exists, recent int
	err := d.set.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN recent = 1 THEN 1 ELSE 0 END), 0)
		 FROM messages WHERE mailbox_id = ?`, d.id,
	).Scan(&exists, &recent)
	if err != nil {
		return mailbox.Snapshot{}, fmt.Errorf("snapshot %s: %w", d.name, err)
	}
	return mailbox.Snapshot{
		Exists:      exists,
		Recent:      recent,
		UIDValidity: d.uidValidity,
		NextUID:     d.nextUID,
	}, nil
}

func (d *Data) Messages(ctx context.Context) (mailbox.MessageIter, error) {
	rows, err := d.set.db.QueryContext(ctx,
		`SELECT uid, flags, recent, internal_date, size_bytes FROM messages WHERE mailbox_id = ? ORDER BY uid`, d.id)
	if err != nil {
		return nil, fmt.Errorf("messages %s: %w", d.name, err)
	}
	return &rowMessageIter{rows: rows}, nil
}

func (d *Data) Items(ctx context.Context) (mailbox.ItemIter, error) {
	rows, err := d.set.db.QueryContext(ctx,
		`SELECT uid, flags FROM messages WHERE mailbox_id = ? ORDER BY uid`, d.id)
	if err != nil {
		return nil, fmt.Errorf("items %s: %w", d.name, err)
	}
	return &rowItemIter{rows: rows}, nil
}

func (d *Data) Find(ctx context.Context, seqSet sequence.Set, view *selected.View) (mailbox.FindIter, error) {
	rows, err := d.set.db.QueryContext(ctx,
		`SELECT uid, flags, recent, internal_date, size_bytes FROM messages WHERE mailbox_id = ? ORDER BY uid`, d.id)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", d.name, err)
	}
	defer rows.Close()

	var all []*mailbox.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	maxSeq := uint32(len(all))
	maxUID := uint32(0)
	if d.nextUID > 0 {
		maxUID = d.nextUID - 1
	}

	byUID := make(map[uint32]*mailbox.Message, len(all))
	for _, m := range all {
		byUID[m.UID] = m
	}

	var hits []mailbox.FindHit
	if seqSet.UID {
		for _, n := range seqSet.Numbers(maxUID) {
			msg := byUID[n]
			seq := 0
			if view != nil {
				if sq, ok := view.SeqOf(n); ok {
					seq = sq
				}
			} else if msg != nil {
				seq = seqOf(all, msg.UID)
			}
			hits = append(hits, mailbox.FindHit{Seq: seq, UID: n, Message: msg})
		}
	} else {
		// Sequence numbers address the mailbox as of view's last
		// refresh, not its current live numbering, so a seq-set is
		// resolved against view.UIDOf first when a view is given.
		viewMax := maxSeq
		if view != nil {
			viewMax = uint32(view.Snapshot().Exists)
		}
		for _, n := range seqSet.Numbers(viewMax) {
			var uid uint32
			var msg *mailbox.Message
			if view != nil {
				if u, ok := view.UIDOf(int(n)); ok {
					uid = u
					msg = byUID[uid]
				}
			} else if int(n) <= len(all) {
				msg = all[n-1]
				uid = msg.UID
			}
			hits = append(hits, mailbox.FindHit{Seq: int(n), UID: uid, Message: msg})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Seq < hits[j].Seq })
	return &sliceFindIter{hits: hits}, nil
}

func seqOf(all []*mailbox.Message, uid uint32) int {
	for i, m := range all {
		if m.UID == uid {
			return i + 1
		}
	}
	return 0
}

func (d *Data) ParseMessage(ctx context.Context, am mailbox.AppendMessage) (*mailbox.Message, error) {
	return &mailbox.Message{
		PermanentFlags: am.Flags.Clone(),
		InternalDate:   am.InternalDate,
		Size:           uint32(len(am.Literal)),
		Literal:        am.Literal,
	}, nil
}

// Add stores msg, spilling its literal to the blob tier when one is
// configured and the literal exceeds d.set.threshold; otherwise the
// literal is kept inline in the messages row.
func (d *Data) Add(ctx context.Context, msg *mailbox.Message, recent bool) (*mailbox.Message, error) {
	d.mu.Lock()
	uid := d.nextUID
	d.nextUID++
	d.mu.Unlock()

	if _, err := d.set.db.ExecContext(ctx,
		`UPDATE mailboxes SET uid_next = ? WHERE id = ?`, d.nextUID, d.id,
	); err != nil {
		return nil, fmt.Errorf("advance uidnext %s: %w", d.name, err)
	}

	var literalCol any
	var blobIDCol any
	if d.set.blobs != nil && d.set.threshold > 0 && len(msg.Literal) > d.set.threshold {
		key, err := d.set.blobs.Put(ctx, msg.Literal)
		if err != nil {
			return nil, fmt.Errorf("offload message body %s: %w", d.name, err)
		}
		res, err := d.set.db.ExecContext(ctx, `INSERT INTO blobs (s3_key) VALUES (?)`, key)
		if err != nil {
			return nil, fmt.Errorf("insert blob row %s: %w", d.name, err)
		}
		blobID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert blob row %s: %w", d.name, err)
		}
		blobIDCol = blobID
	} else {
		literalCol = msg.Literal
	}

	if _, err := d.set.db.ExecContext(ctx,
		`INSERT INTO messages (mailbox_id, uid, flags, recent, internal_date, size_bytes, blob_id, literal)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.id, uid, encodeFlags(msg.PermanentFlags), recent, msg.InternalDate, msg.Size, blobIDCol, literalCol,
	); err != nil {
		return nil, fmt.Errorf("insert message %s: %w", d.name, err)
	}

	return &mailbox.Message{
		UID:            uid,
		PermanentFlags: msg.PermanentFlags.Clone(),
		Recent:         recent,
		InternalDate:   msg.InternalDate,
		Size:           msg.Size,
	}, nil
}

func (d *Data) SaveFlags(ctx context.Context, msgs ...*mailbox.Message) error {
	for _, m := range msgs {
		if _, err := d.set.db.ExecContext(ctx,
			`UPDATE messages SET flags = ?, recent = ? WHERE mailbox_id = ? AND uid = ?`,
			encodeFlags(m.PermanentFlags), m.Recent, d.id, m.UID,
		); err != nil {
			return fmt.Errorf("save flags uid %d in %s: %w", m.UID, d.name, err)
		}
	}
	return nil
}

func (d *Data) Delete(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}
	placeholders := make([]string, len(uids))
	args := make([]any, 0, len(uids)+1)
	args = append(args, d.id)
	for i, u := range uids {
		placeholders[i] = "?"
		args = append(args, u)
	}
	q := fmt.Sprintf(`DELETE FROM messages WHERE mailbox_id = ? AND uid IN (%s)`, strings.Join(placeholders, ","))
	if _, err := d.set.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete messages in %s: %w", d.name, err)
	}
	return nil
}

// Cleanup reclaims the blob tier's orphaned objects, left behind once a
// message referencing them has been deleted.
func (d *Data) Cleanup(ctx context.Context) error {
	if d.set.blobs == nil {
		return nil
	}
	rows, err := d.set.db.QueryContext(ctx,
		`SELECT b.id, b.s3_key FROM blobs b
		 LEFT JOIN messages m ON m.blob_id = b.id
		 WHERE m.id IS NULL`)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", d.name, err)
	}
	defer rows.Close()
	var orphans []struct {
		id  int64
		key string
	}
	for rows.Next() {
		var o struct {
			id  int64
			key string
		}
		if err := rows.Scan(&o.id, &o.key); err != nil {
			return err
		}
		orphans = append(orphans, o)
	}
	for _, o := range orphans {
		if err := d.set.blobs.Delete(ctx, o.key); err != nil {
			return fmt.Errorf("delete orphan blob %s: %w", o.key, err)
		}
		if _, err := d.set.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, o.id); err != nil {
			return fmt.Errorf("delete orphan blob row %d: %w", o.id, err)
		}
	}
	return nil
}

func (d *Data) LoadContent(ctx context.Context, msg *mailbox.Message, level mailbox.ContentLevel) (mailbox.Content, error) {
	if level == mailbox.ContentNone {
		return nil, nil
	}
	var literal []byte
	var blobID sql.NullInt64
	err := d.set.db.QueryRowContext(ctx,
		`SELECT literal, blob_id FROM messages WHERE mailbox_id = ? AND uid = ?`, d.id, msg.UID,
	).Scan(&literal, &blobID)
	if err != nil {
		return nil, fmt.Errorf("load content uid %d: %w", msg.UID, err)
	}
	if blobID.Valid {
		if d.set.blobs == nil {
			return nil, fmt.Errorf("load content uid %d: blob tier not configured", msg.UID)
		}
		var key string
		if err := d.set.db.QueryRowContext(ctx, `SELECT s3_key FROM blobs WHERE id = ?`, blobID.Int64).Scan(&key); err != nil {
			return nil, fmt.Errorf("resolve blob key for uid %d: %w", msg.UID, err)
		}
		literal, err = d.set.blobs.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetch blob for uid %d: %w", msg.UID, err)
		}
	}
	return parseContent(literal), nil
}

// parseContent parses a raw RFC 5322 literal into the mailbox.Content
// the search evaluator and FETCH need, using the standard library's
// net/mail parser. A nil or unparseable literal yields an empty Content rather than an
// error: callers asked for content on a message that has none.
func parseContent(literal []byte) mailbox.Content {
	if literal == nil {
		return emptyContent{}
	}
	msg, err := mail.ReadMessage(bytes.NewReader(literal))
	if err != nil {
		return emptyContent{}
	}
	headers := make(map[string]string, len(msg.Header))
	for k, v := range msg.Header {
		if len(v) > 0 {
			headers[strings.ToUpper(k)] = v[0]
		}
	}
	body, _ := io.ReadAll(msg.Body)
	sent, err := msg.Header.Date()
	return &parsedContent{
		headers: headers,
		body:    string(body),
		sent:    sent,
		hasSent: err == nil,
	}
}

type parsedContent struct {
	headers map[string]string
	body    string
	sent    time.Time
	hasSent bool
}

func (c *parsedContent) Header(name string) (string, bool) {
	v, ok := c.headers[strings.ToUpper(name)]
	return v, ok
}

func (c *parsedContent) BodyText() string { return c.body }

func (c *parsedContent) SentDate() (time.Time, bool) { return c.sent, c.hasSent }

type emptyContent struct{}

func (emptyContent) Header(string) (string, bool) { return "", false }
func (emptyContent) BodyText() string             { return "" }
func (emptyContent) SentDate() (time.Time, bool)  { return time.Time{}, false }

func encodeFlags(s flag.Set) string {
	parts := make([]string, 0, len(s))
	for _, f := range s.Slice() {
		parts = append(parts, string(f))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func decodeFlags(s string) flag.Set {
	fields := strings.Fields(s)
	flags := make([]flag.Flag, len(fields))
	for i, f := range fields {
		flags[i] = flag.Flag(f)
	}
	return flag.NewSet(flags...)
}

func scanMessage(rows *sql.Rows) (*mailbox.Message, error) {
	var uid uint32
	var flagsStr string
	var recent bool
	var internalDate time.Time
	var size uint32
	if err := rows.Scan(&uid, &flagsStr, &recent, &internalDate, &size); err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &mailbox.Message{
		UID:            uid,
		PermanentFlags: decodeFlags(flagsStr),
		Recent:         recent,
		InternalDate:   internalDate,
		Size:           size,
	}, nil
}

type rowMessageIter struct {
	rows *sql.Rows
}

func (it *rowMessageIter) Next(ctx context.Context) (*mailbox.Message, bool, error) {
	if !it.rows.Next() {
		it.rows.Close()
		return nil, false, it.rows.Err()
	}
	m, err := scanMessage(it.rows)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

type rowItemIter struct {
	rows *sql.Rows
}

func (it *rowItemIter) Next(ctx context.Context) (selected.UIDFlags, bool, error) {
	if !it.rows.Next() {
		it.rows.Close()
		return selected.UIDFlags{}, false, it.rows.Err()
	}
	var uid uint32
	var flagsStr string
	if err := it.rows.Scan(&uid, &flagsStr); err != nil {
		return selected.UIDFlags{}, false, fmt.Errorf("scan item: %w", err)
	}
	return selected.UIDFlags{UID: uid, Flags: decodeFlags(flagsStr)}, true, nil
}

type sliceFindIter struct {
	hits []mailbox.FindHit
	pos  int
}

func (it *sliceFindIter) Next(ctx context.Context) (mailbox.FindHit, bool, error) {
	if it.pos >= len(it.hits) {
		return mailbox.FindHit{}, false, nil
	}
	h := it.hits[it.pos]
	it.pos++
	return h, true, nil
}
