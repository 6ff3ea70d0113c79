package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memberauth/internal/domain/models"
	"memberauth/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client      *mongo.Client
	database    *mongo.Database
	members     *mongo.Collection
	counters    *mongo.Collection
	terms       *mongo.Collection
	memberTerms *mongo.Collection
	entries     *mongo.Collection
	now         func() time.Time
}

type memberDoc struct {
	ID        int64     `bson:"_id"`
	Email     string    `bson:"email"`
	PassHash  []byte    `bson:"pass_hash"`
	Name      string    `bson:"name"`
	Nickname  string    `bson:"nickname"`
	BirthDate time.Time `bson:"birth_date"`
	Gender    string    `bson:"gender"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

type termsDoc struct {
	ID        int64     `bson:"_id"`
	Type      string    `bson:"type"`
	Version   int       `bson:"version"`
	Required  bool      `bson:"required"`
	CreatedAt time.Time `bson:"created_at"`
}

type memberTermsDoc struct {
	MemberID int64     `bson:"member_id"`
	TermsID  int64     `bson:"terms_id"`
	Agreed   bool      `bson:"agreed"`
	AgreedAt time.Time `bson:"agreed_at"`
}

// entryDoc is one expiring key of the token store. The TTL index on
// expires_at removes it once it lapses; reads filter on expires_at as well
// because the TTL monitor only runs once a minute.
type entryDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:      client,
		database:    db,
		members:     db.Collection("members"),
		counters:    db.Collection("counters"),
		terms:       db.Collection("terms"),
		memberTerms: db.Collection("member_terms"),
		entries:     db.Collection("token_entries"),
		now:         time.Now,
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

// EnsureIndexes is idempotent. New runs it on every connect.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		name  string
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{
			name: "members.email",
			coll: s.members,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			name: "terms.type_version",
			coll: s.terms,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "type", Value: 1}, {Key: "version", Value: -1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			name: "member_terms.member_terms",
			coll: s.memberTerms,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "member_id", Value: 1}, {Key: "terms_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			name: "token_entries.expires_at TTL",
			coll: s.entries,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "expires_at", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("%s index: %w", idx.name, err)
		}
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// SaveMember inserts the member and its terms answers. Standalone servers
// have no transactions, so a failed answers insert removes the member again.
func (s *Storage) SaveMember(ctx context.Context, m models.NewMember, agreements []models.TermsAgreement) (int64, error) {
	const op = "storage.mongodb.SaveMember"

	id, err := s.nextID(ctx, "members")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	now := s.now().UTC()
	doc := memberDoc{
		ID:        id,
		Email:     m.Email,
		PassHash:  m.PassHash,
		Name:      m.Name,
		Nickname:  m.Nickname,
		BirthDate: m.BirthDate,
		Gender:    string(m.Gender),
		Status:    string(models.MemberStatusActive),
		CreatedAt: now,
	}

	if _, err := s.members.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrMemberExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(agreements) == 0 {
		return id, nil
	}

	docs := make([]memberTermsDoc, 0, len(agreements))
	for _, a := range agreements {
		docs = append(docs, memberTermsDoc{MemberID: id, TermsID: a.TermsID, Agreed: a.Agreed, AgreedAt: now})
	}

	if _, err := s.memberTerms.InsertMany(ctx, docs); err != nil {
		_, _ = s.memberTerms.DeleteMany(ctx, bson.D{{Key: "member_id", Value: id}})
		_, _ = s.members.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
		return 0, fmt.Errorf("%s: terms: %w", op, err)
	}

	return id, nil
}

func (s *Storage) findMember(ctx context.Context, op string, filter bson.D) (*memberDoc, error) {
	var doc memberDoc
	err := s.members.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrMemberNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &doc, nil
}

// Member retrieves a member by email.
func (s *Storage) Member(ctx context.Context, email string) (*models.Member, error) {
	const op = "storage.mongodb.Member"

	doc, err := s.findMember(ctx, op, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return nil, err
	}

	return doc.member(), nil
}

// MemberByID retrieves a member by ID.
func (s *Storage) MemberByID(ctx context.Context, id int64) (*models.Member, error) {
	const op = "storage.mongodb.MemberByID"

	doc, err := s.findMember(ctx, op, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}

	return doc.member(), nil
}

func (s *Storage) MemberProfile(ctx context.Context, id int64) (*models.MemberProfile, error) {
	const op = "storage.mongodb.MemberProfile"

	doc, err := s.findMember(ctx, op, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}

	return &models.MemberProfile{
		ID:        doc.ID,
		Email:     doc.Email,
		Name:      doc.Name,
		Nickname:  doc.Nickname,
		BirthDate: doc.BirthDate,
		Gender:    models.Gender(doc.Gender),
		Status:    models.MemberStatus(doc.Status),
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (d *memberDoc) member() *models.Member {
	return &models.Member{
		ID:       d.ID,
		Email:    d.Email,
		PassHash: d.PassHash,
		Status:   models.MemberStatus(d.Status),
	}
}

func (s *Storage) LatestTerms(ctx context.Context) ([]models.Terms, error) {
	const op = "storage.mongodb.LatestTerms"

	opts := options.Find().SetSort(bson.D{{Key: "type", Value: 1}, {Key: "version", Value: -1}})
	cur, err := s.terms.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []termsDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var out []models.Terms
	for _, d := range docs {
		if len(out) > 0 && string(out[len(out)-1].Type) == d.Type {
			continue
		}
		out = append(out, models.Terms{
			ID:        d.ID,
			Type:      models.TermsType(d.Type),
			Version:   d.Version,
			Required:  d.Required,
			CreatedAt: d.CreatedAt,
		})
	}

	return out, nil
}

// SeedTerms inserts version 1 of every terms type if it doesn't exist.
func (s *Storage) SeedTerms(ctx context.Context) error {
	const op = "storage.mongodb.SeedTerms"

	for _, typ := range models.AllTermsTypes {
		if _, err := s.PublishTerms(ctx, typ, 1); err != nil {
			if isDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

func (s *Storage) PublishTerms(ctx context.Context, typ models.TermsType, version int) (int64, error) {
	const op = "storage.mongodb.PublishTerms"

	id, err := s.nextID(ctx, "terms")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	doc := termsDoc{
		ID:        id,
		Type:      string(typ),
		Version:   version,
		Required:  typ.Required(),
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.terms.InsertOne(ctx, doc); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}
