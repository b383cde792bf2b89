package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/voxpost/internal/blob"
	"github.com/voxpost/internal/models"
	"github.com/voxpost/internal/sysmsg"
)

// uniqueViolation is the postgres error code for unique constraint failures.
const uniqueViolation = "23505"

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// PostgresFactory opens transaction-scoped units of work over one database
// handle.
type PostgresFactory struct {
	db      *sql.DB
	memos   blob.Store
	letters blob.Store
}

func NewPostgresFactory(db *sql.DB, memos, letters blob.Store) *PostgresFactory {
	return &PostgresFactory{db: db, memos: memos, letters: letters}
}

func (f *PostgresFactory) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresUoW{tx: tx, memos: f.memos, letters: f.letters}, nil
}

type postgresUoW struct {
	tx      *sql.Tx
	memos   blob.Store
	letters blob.Store
}

func (u *postgresUoW) Users() UserRepo                   { return &pgUserRepo{tx: u.tx} }
func (u *postgresUoW) Messages() MessageRepo             { return &pgMessageRepo{tx: u.tx} }
func (u *postgresUoW) Files() FileRepo                   { return &pgFileRepo{tx: u.tx} }
func (u *postgresUoW) Addresses() AddressRepo            { return &pgAddressRepo{tx: u.tx} }
func (u *postgresUoW) Drafts() DraftRepo                 { return &pgDraftRepo{tx: u.tx} }
func (u *postgresUoW) Orders() OrderRepo                 { return &pgOrderRepo{tx: u.tx} }
func (u *postgresUoW) SystemMessages() SystemMessageRepo { return &pgSystemMessageRepo{tx: u.tx} }
func (u *postgresUoW) Memos() blob.Store                 { return u.memos }
func (u *postgresUoW) Letters() blob.Store               { return u.letters }

func (u *postgresUoW) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (u *postgresUoW) Rollback() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

type pgUserRepo struct {
	tx *sql.Tx
}

const userColumns = "id, created_at, letter_credits, first_name, last_name, email, phone_number, telegram_id, prompt"

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var firstName, lastName, email, phone, telegramID, prompt sql.NullString
	err := row.Scan(&u.ID, &u.CreatedAt, &u.LetterCredits, &firstName, &lastName,
		&email, &phone, &telegramID, &prompt)
	if err != nil {
		return models.User{}, translateErr(err)
	}
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Email = email.String
	u.PhoneNumber = phone.String
	u.TelegramID = telegramID.String
	u.Prompt = prompt.String
	return u, nil
}

func (r *pgUserRepo) Add(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO users (id, created_at, letter_credits, first_name, last_name, email, phone_number, telegram_id, prompt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.CreatedAt, u.LetterCredits, nullStr(u.FirstName), nullStr(u.LastName),
		nullStr(u.Email), nullStr(u.PhoneNumber), nullStr(u.TelegramID), nullStr(u.Prompt))
	if err != nil {
		return models.User{}, fmt.Errorf("failed to insert user: %w", translateErr(err))
	}
	return u, nil
}

func (r *pgUserRepo) Get(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *pgUserRepo) GetByPhone(ctx context.Context, phone string) (models.User, error) {
	return scanUser(r.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
}

func (r *pgUserRepo) GetByTelegramID(ctx context.Context, telegramID string) (models.User, error) {
	return scanUser(r.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID))
}

func (r *pgUserRepo) UpdatePrompt(ctx context.Context, id, prompt string) error {
	res, err := r.tx.ExecContext(ctx, `UPDATE users SET prompt = $1 WHERE id = $2`, prompt, id)
	if err != nil {
		return fmt.Errorf("failed to update user prompt: %w", err)
	}
	return requireRow(res)
}

func (r *pgUserRepo) UpdateCredits(ctx context.Context, id string, credits int) error {
	res, err := r.tx.ExecContext(ctx, `UPDATE users SET letter_credits = $1 WHERE id = $2`, credits, id)
	if err != nil {
		return fmt.Errorf("failed to update user credits: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type pgMessageRepo struct {
	tx *sql.Tx
}

const messageColumns = `id, user_id, platform, sent_by, type, created_at, body, memo_duration,
	transcript, attachment_mime, command, draft_referenced, order_referenced, response_to,
	action_confirmed, tg_user_id, tg_chat_id, tg_message_id, wa_mid, wa_webhook_id,
	wa_phone_number_id, wa_profile_name, wa_media_id, wa_reference_mid, wa_phone`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var body, transcript, mime, command, draftRef, orderRef, responseTo sql.NullString
	var duration sql.NullFloat64
	var confirmed sql.NullBool
	var tgUserID, tgMessageID sql.NullString
	var tgChatID sql.NullInt64
	var waMID, waWebhookID, waPhoneNumberID, waProfileName, waMediaID, waReferenceMID, waPhone sql.NullString
	err := row.Scan(&m.ID, &m.UserID, &m.Platform, &m.SentBy, &m.Type, &m.Timestamp,
		&body, &duration, &transcript, &mime, &command, &draftRef, &orderRef, &responseTo,
		&confirmed, &tgUserID, &tgChatID, &tgMessageID, &waMID, &waWebhookID,
		&waPhoneNumberID, &waProfileName, &waMediaID, &waReferenceMID, &waPhone)
	if err != nil {
		return models.Message{}, translateErr(err)
	}
	m.Body = body.String
	m.MemoDuration = duration.Float64
	m.Transcript = transcript.String
	m.AttachmentMime = mime.String
	m.Command = command.String
	m.DraftReferenced = draftRef.String
	m.OrderReferenced = orderRef.String
	m.ResponseTo = responseTo.String
	if confirmed.Valid {
		v := confirmed.Bool
		m.ActionConfirmed = &v
	}
	if m.Platform == models.PlatformTelegram {
		m.Telegram = &models.TelegramMeta{
			UserID:    tgUserID.String,
			ChatID:    tgChatID.Int64,
			MessageID: tgMessageID.String,
		}
	}
	if m.Platform == models.PlatformWhatsapp {
		m.Whatsapp = &models.WhatsappMeta{
			MID:           waMID.String,
			WebhookID:     waWebhookID.String,
			PhoneNumberID: waPhoneNumberID.String,
			ProfileName:   waProfileName.String,
			MediaID:       waMediaID.String,
			ReferenceMID:  waReferenceMID.String,
			Phone:         waPhone.String,
		}
	}
	return m, nil
}

func (r *pgMessageRepo) Add(ctx context.Context, m models.Message) (models.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	var tg models.TelegramMeta
	if m.Telegram != nil {
		tg = *m.Telegram
	}
	var wa models.WhatsappMeta
	if m.Whatsapp != nil {
		wa = *m.Whatsapp
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, platform, sent_by, type, created_at, body, memo_duration,
			transcript, attachment_mime, command, draft_referenced, order_referenced, response_to,
			action_confirmed, tg_user_id, tg_chat_id, tg_message_id, wa_mid, wa_webhook_id,
			wa_phone_number_id, wa_profile_name, wa_media_id, wa_reference_mid, wa_phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25)`,
		m.ID, m.UserID, m.Platform, m.SentBy, m.Type, m.Timestamp, nullStr(m.Body),
		sql.NullFloat64{Float64: m.MemoDuration, Valid: m.MemoDuration != 0},
		nullStr(m.Transcript), nullStr(m.AttachmentMime), nullStr(m.Command),
		nullStr(m.DraftReferenced), nullStr(m.OrderReferenced), nullStr(m.ResponseTo),
		nullBool(m.ActionConfirmed), nullStr(tg.UserID),
		sql.NullInt64{Int64: tg.ChatID, Valid: tg.ChatID != 0}, nullStr(tg.MessageID),
		nullStr(wa.MID), nullStr(wa.WebhookID), nullStr(wa.PhoneNumberID),
		nullStr(wa.ProfileName), nullStr(wa.MediaID), nullStr(wa.ReferenceMID), nullStr(wa.Phone))
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to insert message: %w", translateErr(err))
	}
	return m, nil
}

func (r *pgMessageRepo) Get(ctx context.Context, id string) (models.Message, error) {
	return scanMessage(r.tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *pgMessageRepo) GetByWhatsappMID(ctx context.Context, mid string) (models.Message, error) {
	return scanMessage(r.tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE wa_mid = $1`, mid))
}

func (r *pgMessageRepo) UpdateReferences(ctx context.Context, id, draftID, orderID string) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE messages SET
			draft_referenced = COALESCE($1, draft_referenced),
			order_referenced = COALESCE($2, order_referenced)
		 WHERE id = $3`,
		nullStr(draftID), nullStr(orderID), id)
	if err != nil {
		return fmt.Errorf("failed to update message references: %w", err)
	}
	return requireRow(res)
}

func (r *pgMessageRepo) UpdateTranscript(ctx context.Context, id, transcript string) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE messages SET transcript = $1 WHERE id = $2`, transcript, id)
	if err != nil {
		return fmt.Errorf("failed to update message transcript: %w", err)
	}
	return requireRow(res)
}

type pgFileRepo struct {
	tx *sql.Tx
}

func (r *pgFileRepo) Add(ctx context.Context, f models.File) (models.File, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO files (id, message_id, mime_type, blob_path) VALUES ($1, $2, $3, $4)`,
		f.ID, f.MessageID, f.MimeType, f.BlobPath)
	if err != nil {
		return models.File{}, fmt.Errorf("failed to insert file: %w", translateErr(err))
	}
	return f, nil
}

func (r *pgFileRepo) GetByMessage(ctx context.Context, messageID string) (models.File, error) {
	var f models.File
	err := r.tx.QueryRowContext(ctx,
		`SELECT id, message_id, mime_type, blob_path FROM files WHERE message_id = $1`, messageID).
		Scan(&f.ID, &f.MessageID, &f.MimeType, &f.BlobPath)
	if err != nil {
		return models.File{}, translateErr(err)
	}
	return f, nil
}

type pgAddressRepo struct {
	tx *sql.Tx
}

const addressColumns = "id, created_at, user_id, addressee, line1, line2, zip, city, country, proposal_id"

func scanAddress(row rowScanner) (models.Address, error) {
	var a models.Address
	var line2, proposalID sql.NullString
	err := row.Scan(&a.ID, &a.CreatedAt, &a.UserID, &a.Addressee, &a.Line1, &line2,
		&a.Zip, &a.City, &a.Country, &proposalID)
	if err != nil {
		return models.Address{}, translateErr(err)
	}
	a.Line2 = line2.String
	a.ProposalID = proposalID.String
	return a, nil
}

func (r *pgAddressRepo) Add(ctx context.Context, a models.Address) (models.Address, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO addresses (id, created_at, user_id, addressee, line1, line2, zip, city, country, proposal_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.CreatedAt, a.UserID, a.Addressee, a.Line1, nullStr(a.Line2),
		a.Zip, a.City, a.Country, nullStr(a.ProposalID))
	if err != nil {
		return models.Address{}, fmt.Errorf("failed to insert address: %w", translateErr(err))
	}
	return a, nil
}

func (r *pgAddressRepo) Get(ctx context.Context, id string) (models.Address, error) {
	return scanAddress(r.tx.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
}

func (r *pgAddressRepo) ListByUser(ctx context.Context, userID string) ([]models.Address, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()
	var out []models.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate addresses: %w", err)
	}
	return out, nil
}

func (r *pgAddressRepo) Delete(ctx context.Context, id string) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete address: %w", err)
	}
	return requireRow(res)
}

type pgDraftRepo struct {
	tx *sql.Tx
}

const draftColumns = "id, user_id, created_at, text, blob_path, address_id, builds_on"

func scanDraft(row rowScanner) (models.Draft, error) {
	var d models.Draft
	var blobPath, addressID, buildsOn sql.NullString
	err := row.Scan(&d.ID, &d.UserID, &d.CreatedAt, &d.Text, &blobPath, &addressID, &buildsOn)
	if err != nil {
		return models.Draft{}, translateErr(err)
	}
	d.BlobPath = blobPath.String
	d.AddressID = addressID.String
	d.BuildsOn = buildsOn.String
	return d, nil
}

func (r *pgDraftRepo) Add(ctx context.Context, d models.Draft) (models.Draft, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO drafts (id, user_id, created_at, text, blob_path, address_id, builds_on)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.UserID, d.CreatedAt, d.Text, nullStr(d.BlobPath), nullStr(d.AddressID), nullStr(d.BuildsOn))
	if err != nil {
		return models.Draft{}, fmt.Errorf("failed to insert draft: %w", translateErr(err))
	}
	return d, nil
}

func (r *pgDraftRepo) Get(ctx context.Context, id string) (models.Draft, error) {
	return scanDraft(r.tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id))
}

func (r *pgDraftRepo) LastByUser(ctx context.Context, userID string) (models.Draft, error) {
	return scanDraft(r.tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`,
		userID))
}

type pgOrderRepo struct {
	tx *sql.Tx
}

const orderColumns = "id, user_id, draft_id, address_id, message_id, status, payment_type, created_at"

func scanOrder(row rowScanner) (models.Order, error) {
	var o models.Order
	var messageID sql.NullString
	err := row.Scan(&o.ID, &o.UserID, &o.DraftID, &o.AddressID, &messageID,
		&o.Status, &o.PaymentType, &o.CreatedAt)
	if err != nil {
		return models.Order{}, translateErr(err)
	}
	o.MessageID = messageID.String
	return o, nil
}

func (r *pgOrderRepo) Add(ctx context.Context, o models.Order) (models.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPaymentPending
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, draft_id, address_id, message_id, status, payment_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.DraftID, o.AddressID, nullStr(o.MessageID), o.Status, o.PaymentType, o.CreatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to insert order: %w", translateErr(err))
	}
	return o, nil
}

func (r *pgOrderRepo) Get(ctx context.Context, id string) (models.Order, error) {
	return scanOrder(r.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// MarkTransferred is the at-most-once dispatch guard: the conditional UPDATE
// makes concurrent callbacks race safely, only one caller sees a row flip.
func (r *pgOrderRepo) MarkTransferred(ctx context.Context, id string) (bool, error) {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status != $1`,
		models.OrderStatusTransferred, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark order transferred: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

type pgSystemMessageRepo struct {
	tx *sql.Tx
}

// Get prefers a row in system_messages so deployments can override copy, and
// falls back to the built-in defaults.
func (r *pgSystemMessageRepo) Get(ctx context.Context, id string) (string, error) {
	var text string
	err := r.tx.QueryRowContext(ctx,
		`SELECT message_body FROM system_messages WHERE message_identifier = $1`, id).Scan(&text)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to load system message %s: %w", id, err)
	}
	text, ok := sysmsg.Defaults[id]
	if !ok {
		return "", fmt.Errorf("unknown system message %s: %w", id, ErrNotFound)
	}
	return text, nil
}
