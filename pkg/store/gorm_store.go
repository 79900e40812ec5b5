package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
)

const migrateLockID int64 = 48151623

var (
	videoColumns = map[string]string{
		"datetime":  "event_at",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
		"title":     "title",
	}
	entityColumns = map[string]string{
		"name":      "name",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
	}
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &PersonModel{}, &ChannelModel{}, &VideoModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, column := range []string{"keywords", "related_people", "channels"} {
			if err := tx.Exec(fmt.Sprintf(
				"UPDATE video_models SET %[1]s = '[]'::jsonb WHERE %[1]s IS NULL OR jsonb_typeof(%[1]s) <> 'array'",
				column,
			)).Error; err != nil {
				return fmt.Errorf("normalize video %s: %w", column, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// users

func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, &UserModel{}, "email = ?", email)
}

func (s *GormStore) HasUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, &UserModel{}, "username = ?", username)
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	found, err := s.first(ctx, &model, "email = ?", email)
	if err != nil || !found {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	found, err := s.first(ctx, &model, "id = ?", id)
	if err != nil || !found {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out, nil
}

func (s *GormStore) UserCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// persons

func (s *GormStore) SavePerson(ctx context.Context, p domain.Person) error {
	model := personToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "occupation", "description", "aliases", "image", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) GetPerson(ctx context.Context, id string) (domain.Person, bool, error) {
	var model PersonModel
	found, err := s.first(ctx, &model, "id = ?", id)
	if err != nil || !found {
		return domain.Person{}, false, err
	}
	return personFromModel(model), true, nil
}

func (s *GormStore) ListPersons(ctx context.Context, order []search.SortField, page search.Page) ([]domain.Person, int64, error) {
	var models []PersonModel
	total, err := s.listPage(ctx, &PersonModel{}, &models, entityColumns, order, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.Person, 0, len(models))
	for _, m := range models {
		out = append(out, personFromModel(m))
	}
	return out, total, nil
}

// SearchPersons ranks by the first matching field: name, aliases, occupation
// then description.
func (s *GormStore) SearchPersons(ctx context.Context, text search.Pattern, limit int) ([]domain.Person, error) {
	expr := text.Expr()
	rank := clause.Expr{
		SQL: fmt.Sprintf(`CASE
			WHEN name ~* ? THEN %d
			WHEN EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(aliases, '[]'::jsonb)) AS a WHERE a ~* ?) THEN %d
			WHEN EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(occupation, '[]'::jsonb)) AS o WHERE o ~* ?) THEN %d
			WHEN description ~* ? THEN %d
			ELSE 0 END DESC, created_at DESC, id ASC`,
			search.WeightName, search.WeightAliases, search.WeightOccupation, search.WeightDescription),
		Vars:               []any{expr, expr, expr, expr},
		WithoutParentheses: true,
	}
	var models []PersonModel
	err := s.db.WithContext(ctx).
		Where(`(name ~* ?
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(aliases, '[]'::jsonb)) AS a WHERE a ~* ?)
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(COALESCE(occupation, '[]'::jsonb)) AS o WHERE o ~* ?)
			OR description ~* ?)`, expr, expr, expr, expr).
		Clauses(clause.OrderBy{Expression: rank}).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Person, 0, len(models))
	for _, m := range models {
		out = append(out, personFromModel(m))
	}
	return out, nil
}

func (s *GormStore) PersonsByIDs(ctx context.Context, ids []string) (map[string]domain.Person, error) {
	out := make(map[string]domain.Person, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []PersonModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = personFromModel(m)
	}
	return out, nil
}

func (s *GormStore) DeletePerson(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PersonModel{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// channels

func (s *GormStore) SaveChannel(ctx context.Context, c domain.Channel) error {
	model := channelToModel(c)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "image", "updated_at"}),
	}).Create(&model).Error
}

func (s *GormStore) GetChannel(ctx context.Context, id string) (domain.Channel, bool, error) {
	var model ChannelModel
	found, err := s.first(ctx, &model, "id = ?", id)
	if err != nil || !found {
		return domain.Channel{}, false, err
	}
	return channelFromModel(model), true, nil
}

func (s *GormStore) ListChannels(ctx context.Context, order []search.SortField, page search.Page) ([]domain.Channel, int64, error) {
	var models []ChannelModel
	total, err := s.listPage(ctx, &ChannelModel{}, &models, entityColumns, order, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.Channel, 0, len(models))
	for _, m := range models {
		out = append(out, channelFromModel(m))
	}
	return out, total, nil
}

func (s *GormStore) SearchChannels(ctx context.Context, text search.Pattern, limit int) ([]domain.Channel, error) {
	var models []ChannelModel
	err := s.db.WithContext(ctx).
		Where("name ~* ?", text.Expr()).
		Order("created_at DESC").Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Channel, 0, len(models))
	for _, m := range models {
		out = append(out, channelFromModel(m))
	}
	return out, nil
}

func (s *GormStore) ChannelsByIDs(ctx context.Context, ids []string) (map[string]domain.Channel, error) {
	out := make(map[string]domain.Channel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []ChannelModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID] = channelFromModel(m)
	}
	return out, nil
}

func (s *GormStore) DeleteChannel(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&ChannelModel{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// videos

func (s *GormStore) SaveVideo(ctx context.Context, v domain.Video) error {
	model := videoToModel(v)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "video_link", "storage_key", "content_type", "size_bytes",
			"keywords", "related_people", "channels", "event_at", "updated_at",
		}),
	}).Create(&model).Error
}

func (s *GormStore) GetVideo(ctx context.Context, id string) (domain.Video, bool, error) {
	var model VideoModel
	found, err := s.first(ctx, &model, "id = ?", id)
	if err != nil || !found {
		return domain.Video{}, false, err
	}
	return videoFromModel(model), true, nil
}

func (s *GormStore) DeleteVideo(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&VideoModel{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// SearchVideos runs the page fetch and the total count concurrently against
// the same filter.
func (s *GormStore) SearchVideos(ctx context.Context, q search.Query) ([]domain.Video, int64, error) {
	var (
		models []VideoModel
		total  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx := applyVideoFilter(s.db.WithContext(gctx).Model(&VideoModel{}), q.Filter)
		tx = applyOrder(tx, videoColumns, q.Sort)
		if err := tx.Offset(q.Page.Offset()).Limit(q.Page.Limit).Find(&models).Error; err != nil {
			return fmt.Errorf("find videos: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		tx := applyVideoFilter(s.db.WithContext(gctx).Model(&VideoModel{}), q.Filter)
		if err := tx.Count(&total).Error; err != nil {
			return fmt.Errorf("count videos: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	out := make([]domain.Video, 0, len(models))
	for _, m := range models {
		out = append(out, videoFromModel(m))
	}
	return out, total, nil
}

func (s *GormStore) CountVideosByPerson(ctx context.Context, personID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&VideoModel{}).
		Where("EXISTS (SELECT 1 FROM jsonb_array_elements(related_people) AS p WHERE p->>'person' = ?)", personID).
		Count(&count).Error
	return count, err
}

func (s *GormStore) RenamePersonRefs(ctx context.Context, personID, name string) error {
	return s.renameRefs(ctx, "related_people", "person", personID, name)
}

func (s *GormStore) RenameChannelRefs(ctx context.Context, channelID, name string) error {
	return s.renameRefs(ctx, "channels", "channel", channelID, name)
}

func (s *GormStore) renameRefs(ctx context.Context, column, key, id, name string) error {
	query := fmt.Sprintf(`
		UPDATE video_models SET %[1]s = (
			SELECT jsonb_agg(CASE WHEN e->>'%[2]s' = ? THEN jsonb_set(e, '{name}', to_jsonb(?::text)) ELSE e END)
			FROM jsonb_array_elements(%[1]s) AS e
		)
		WHERE EXISTS (SELECT 1 FROM jsonb_array_elements(%[1]s) AS e WHERE e->>'%[2]s' = ?)`,
		column, key)
	if err := s.db.WithContext(ctx).Exec(query, id, name, id).Error; err != nil {
		return fmt.Errorf("rename %s refs: %w", key, err)
	}
	return nil
}

func applyVideoFilter(tx *gorm.DB, f search.Filter) *gorm.DB {
	if !f.Text.IsZero() {
		expr := f.Text.Expr()
		tx = tx.Where(`(title ~* ? OR description ~* ?
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(keywords) AS k WHERE k ~* ?)
			OR EXISTS (SELECT 1 FROM jsonb_array_elements(related_people) AS p WHERE p->>'name' ~* ?)
			OR EXISTS (SELECT 1 FROM jsonb_array_elements(channels) AS c WHERE c->>'name' ~* ?))`,
			expr, expr, expr, expr, expr)
	}
	if f.From != nil {
		tx = tx.Where("event_at >= ?", *f.From)
	}
	if f.To != nil {
		tx = tx.Where("event_at <= ?", *f.To)
	}
	if len(f.PersonIDs) > 0 {
		tx = tx.Where("EXISTS (SELECT 1 FROM jsonb_array_elements(related_people) AS p WHERE p->>'person' IN ?)", f.PersonIDs)
	}
	if len(f.ChannelIDs) > 0 {
		tx = tx.Where("EXISTS (SELECT 1 FROM jsonb_array_elements(channels) AS c WHERE c->>'channel' IN ?)", f.ChannelIDs)
	}
	if len(f.Keywords) > 0 {
		conds := make([]string, 0, len(f.Keywords))
		args := make([]any, 0, len(f.Keywords))
		for _, kw := range f.Keywords {
			conds = append(conds, "k ~* ?")
			args = append(args, kw.Expr())
		}
		tx = tx.Where("EXISTS (SELECT 1 FROM jsonb_array_elements_text(keywords) AS k WHERE "+strings.Join(conds, " OR ")+")", args...)
	}
	return tx
}

// applyOrder appends id as a final key so pagination is stable.
func applyOrder(tx *gorm.DB, columns map[string]string, order []search.SortField) *gorm.DB {
	for _, field := range order {
		column, ok := columns[field.Key]
		if !ok {
			continue
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: field.Desc})
	}
	return tx.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
}

func (s *GormStore) listPage(ctx context.Context, model any, dest any, columns map[string]string, order []search.SortField, page search.Page) (int64, error) {
	var total int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx := applyOrder(s.db.WithContext(gctx).Model(model), columns, order)
		return tx.Offset(page.Offset()).Limit(page.Limit).Find(dest).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).Model(model).Count(&total).Error
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *GormStore) first(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	if err := s.db.WithContext(ctx).Where(query, args...).First(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *GormStore) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func personToModel(p domain.Person) PersonModel {
	return PersonModel{
		ID:          p.ID,
		Name:        p.Name,
		Occupation:  jsonArray(p.Occupation),
		Description: p.Description,
		Aliases:     jsonArray(p.Aliases),
		Image:       p.Image,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func personFromModel(m PersonModel) domain.Person {
	return domain.Person{
		ID:          m.ID,
		Name:        m.Name,
		Occupation:  fromJSONArray[string](m.Occupation),
		Description: m.Description,
		Aliases:     fromJSONArray[string](m.Aliases),
		Image:       m.Image,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func channelToModel(c domain.Channel) ChannelModel {
	return ChannelModel{
		ID:        c.ID,
		Name:      c.Name,
		Image:     c.Image,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func channelFromModel(m ChannelModel) domain.Channel {
	return domain.Channel{
		ID:        m.ID,
		Name:      m.Name,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func videoToModel(v domain.Video) VideoModel {
	return VideoModel{
		ID:            v.ID,
		Title:         v.Title,
		Description:   v.Description,
		VideoLink:     v.VideoLink,
		StorageKey:    v.StorageKey,
		ContentType:   v.ContentType,
		SizeBytes:     v.SizeBytes,
		Keywords:      jsonArray(v.Keywords),
		RelatedPeople: jsonArray(v.RelatedPeople),
		Channels:      jsonArray(v.Channels),
		EventAt:       v.EventAt.UTC(),
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
}

func videoFromModel(m VideoModel) domain.Video {
	return domain.Video{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		VideoLink:     m.VideoLink,
		StorageKey:    m.StorageKey,
		ContentType:   m.ContentType,
		SizeBytes:     m.SizeBytes,
		Keywords:      fromJSONArray[string](m.Keywords),
		RelatedPeople: fromJSONArray[domain.PersonRef](m.RelatedPeople),
		Channels:      fromJSONArray[domain.ChannelRef](m.Channels),
		EventAt:       m.EventAt.UTC(),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// jsonArray always encodes a JSON array so jsonb_array_elements never sees null.
func jsonArray[T any](items []T) datatypes.JSON {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}

func fromJSONArray[T any](raw datatypes.JSON) []T {
	out := []T{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return []T{}
	}
	return out
}
