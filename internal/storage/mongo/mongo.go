package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/models"
	"chat_service/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	usersColl         = "users"
	invitesColl       = "invites"
	inviteCodesColl   = "invite_codes"
	conversationsColl = "conversations"
	messagesColl      = "messages"
)

type MongoRepo struct {
	client *mongo.Client
	db     *mongo.Database
}

// * New connects to the configured deployment and makes sure the indexes exist.
func New(ctx context.Context, cfg config.Mongo) (*MongoRepo, error) {
	const op = "storage.mongo.New"

	if cfg.URI == "" {
		return nil, fmt.Errorf("%s: empty uri", op)
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(8 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	repo := &MongoRepo{
		client: client,
		db:     client.Database(cfg.Database),
	}

	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		repo.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return repo, nil
}

func (r *MongoRepo) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		usersColl: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		invitesColl: {
			{Keys: bson.D{{Key: "code", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		conversationsColl: {
			{Keys: bson.D{{Key: "members", Value: 1}, {Key: "updated_at", Value: -1}}},
			{
				Keys: bson.D{{Key: "pair_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$exists": true}}),
			},
		},
		messagesColl: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for coll, idx := range indexes {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("%s indexes: %w", coll, err)
		}
	}

	return nil
}

func (r *MongoRepo) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.mongo.SaveUser"

	if _, err := r.db.Collection(usersColl).InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *MongoRepo) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.mongo.User"

	var user models.User

	err := r.db.Collection(usersColl).FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (r *MongoRepo) SaveInvite(ctx context.Context, invite models.Invite) error {
	const op = "storage.mongo.SaveInvite"

	if _, err := r.db.Collection(invitesColl).InsertOne(ctx, invite); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * InviteByCode returns the most recently created invite carrying the code.
func (r *MongoRepo) InviteByCode(ctx context.Context, code string) (models.Invite, error) {
	const op = "storage.mongo.InviteByCode"

	var invite models.Invite

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	err := r.db.Collection(invitesColl).FindOne(ctx, bson.M{"code": code}, opts).Decode(&invite)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Invite{}, fmt.Errorf("%s: %w", op, storage.ErrInviteNotFound)
		}
		return models.Invite{}, fmt.Errorf("%s: %w", op, err)
	}

	return invite, nil
}

// * AcceptInvite claims the invite with a conditional update so only one acceptor wins.
// The conversation is upserted afterwards on both the winning and the replay path,
// which repairs a winner that crashed between the two writes.
func (r *MongoRepo) AcceptInvite(
	ctx context.Context,
	inviteID, acceptorID string,
	conv models.Conversation,
) (string, error) {
	const op = "storage.mongo.AcceptInvite"

	invites := r.db.Collection(invitesColl)

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "accepted_by", Value: acceptorID},
			{Key: "accepted_at", Value: conv.CreatedAt},
			{Key: "conversation_id", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$in", Value: bson.A{"$conversation_id", bson.A{"", nil}}}},
				conv.ID,
				"$conversation_id",
			}}}},
		}}},
	}

	var invite models.Invite

	err := invites.FindOneAndUpdate(
		ctx,
		bson.M{"_id": inviteID, "accepted_by": ""},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&invite)

	switch {
	case err == nil:
	case errors.Is(err, mongo.ErrNoDocuments):
		if err := invites.FindOne(ctx, bson.M{"_id": inviteID}).Decode(&invite); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return "", fmt.Errorf("%s: %w", op, storage.ErrInviteNotFound)
			}
			return "", fmt.Errorf("%s: %w", op, err)
		}

		if invite.AcceptedBy != acceptorID {
			return "", fmt.Errorf("%s: %w", op, storage.ErrInviteAlreadyAccepted)
		}
	default:
		return "", fmt.Errorf("%s: %w", op, err)
	}

	linked := conv
	linked.ID = invite.ConversationID

	_, err = r.db.Collection(conversationsColl).UpdateOne(
		ctx,
		bson.M{"_id": linked.ID},
		bson.M{"$setOnInsert": linked},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return invite.ConversationID, nil
}

// * ReserveCode upserts the code only when the existing reservation has expired.
// A live reservation makes the upsert collide on _id, which reports false.
func (r *MongoRepo) ReserveCode(ctx context.Context, code string, until time.Time) (bool, error) {
	const op = "storage.mongo.ReserveCode"

	var expiresAt any
	if !until.IsZero() {
		expiresAt = until
	}

	_, err := r.db.Collection(inviteCodesColl).UpdateOne(
		ctx,
		bson.M{"_id": code, "expires_at": bson.M{"$lt": time.Now()}},
		bson.M{"$set": bson.M{"expires_at": expiresAt}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (r *MongoRepo) SaveConversation(ctx context.Context, conv models.Conversation) error {
	const op = "storage.mongo.SaveConversation"

	if _, err := r.db.Collection(conversationsColl).InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrConversationExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *MongoRepo) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	const op = "storage.mongo.Conversation"

	return r.findConversation(ctx, op, bson.M{"_id": id})
}

func (r *MongoRepo) ConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	const op = "storage.mongo.ConversationsForUser"

	cur, err := r.db.Collection(conversationsColl).Find(
		ctx,
		bson.M{"members": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	convs := []models.Conversation{}
	if err := cur.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return convs, nil
}

// * DirectConversation finds the two-member conversation between the users.
func (r *MongoRepo) DirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	const op = "storage.mongo.DirectConversation"

	return r.findConversation(ctx, op, bson.M{
		"members": bson.M{"$all": bson.A{userA, userB}, "$size": 2},
	})
}

func (r *MongoRepo) findConversation(ctx context.Context, op string, filter bson.M) (models.Conversation, error) {
	var conv models.Conversation

	err := r.db.Collection(conversationsColl).FindOne(ctx, filter).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Conversation{}, fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
		}
		return models.Conversation{}, fmt.Errorf("%s: %w", op, err)
	}

	return conv, nil
}

func (r *MongoRepo) TouchConversation(ctx context.Context, id string, at time.Time) error {
	const op = "storage.mongo.TouchConversation"

	res, err := r.db.Collection(conversationsColl).UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrConversationNotFound)
	}

	return nil
}

func (r *MongoRepo) SaveMessage(ctx context.Context, msg models.Message) error {
	const op = "storage.mongo.SaveMessage"

	if _, err := r.db.Collection(messagesColl).InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Messages returns the conversation history in ascending order, strictly after since
// when it is set.
func (r *MongoRepo) Messages(ctx context.Context, conversationID string, since time.Time) ([]models.Message, error) {
	const op = "storage.mongo.Messages"

	filter := bson.M{"conversation_id": conversationID}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gt": since}
	}

	cur, err := r.db.Collection(messagesColl).Find(
		ctx,
		filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	msgs := []models.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return msgs, nil
}

func (r *MongoRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// * Close disconnects the client.
func (r *MongoRepo) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = r.client.Disconnect(ctx)
}
