package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowdesk/backend/internal/apperr"
	"flowdesk/backend/internal/models"

	"github.com/gofrs/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	tasksCollection = "tasks"
	usersCollection = "users"
)

func now() time.Time {
	return models.NormalizeTime(time.Now())
}

// EnsureMongoIndexes creates the unique email index and the task lookup
// indexes. It is safe to call on every start.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err = db.Collection(tasksCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "assignedTo", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "deadline", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create tasks indexes: %w", err)
	}
	return nil
}

type MongoTaskRepository struct {
	coll *mongo.Collection
}

func NewMongoTaskRepository(db *mongo.Database) *MongoTaskRepository {
	return &MongoTaskRepository{coll: db.Collection(tasksCollection)}
}

func (r *MongoTaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		task.ID = id
	}
	task.CreatedAt = now()
	task.UpdatedAt = task.CreatedAt

	if _, err := r.coll.InsertOne(ctx, newTaskDocument(task)); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *MongoTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var doc taskDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("task")
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return doc.model()
}

func (r *MongoTaskRepository) Update(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = now()
	doc := newTaskDocument(task)

	update := bson.M{"$set": bson.M{
		"title":             doc.Title,
		"description":       doc.Description,
		"priority":          doc.Priority,
		"deadline":          doc.Deadline,
		"timeRequired":      doc.TimeRequired,
		"status":            doc.Status,
		"remarks":           doc.Remarks,
		"extensionReason":   doc.ExtensionReason,
		"extensionRequest":  doc.ExtensionRequest,
		"pendingReminderAt": doc.PendingReminderAt,
		"updatedAt":         doc.UpdatedAt,
	}}

	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": doc.ID}, update)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("task")
	}
	return nil
}

func (r *MongoTaskRepository) ListByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.find(ctx, bson.M{"assignedTo": userID.String()}, opts)
}

func (r *MongoTaskRepository) ListAll(ctx context.Context) ([]models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "deadline", Value: -1}})
	return r.find(ctx, bson.M{}, opts)
}

func (r *MongoTaskRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Task, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(docs))
	for _, doc := range docs {
		task, err := doc.model()
		if err != nil {
			return nil, fmt.Errorf("decode task %s: %w", doc.ID, err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, nil
}

func (r *MongoTaskRepository) CountOpenByAssignee(ctx context.Context) (map[uuid.UUID]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: bson.D{{Key: "$ne", Value: string(models.StatusCompleted)}}}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$assignedTo"}, {Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count open tasks: %w", err)
	}

	var rows []struct {
		ID    string `bson:"_id"`
		Total int64  `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode counts: %w", err)
	}

	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		id, err := uuid.FromString(row.ID)
		if err != nil {
			continue
		}
		counts[id] = row.Total
	}
	return counts, nil
}

type MongoUserRepository struct {
	coll *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(usersCollection)}
}

func (r *MongoUserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		user.ID = id
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.CreatedAt = now()
	user.UpdatedAt = user.CreatedAt

	if _, err := r.coll.InsertOne(ctx, newUserDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("user already exists")
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id.String()})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": normalizeEmail(email)})
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return doc.model()
}

func (r *MongoUserRepository) List(ctx context.Context) ([]models.User, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		user, err := doc.model()
		if err != nil {
			return nil, fmt.Errorf("decode user %s: %w", doc.ID, err)
		}
		users = append(users, *user)
	}
	return users, nil
}

func (r *MongoUserRepository) Update(ctx context.Context, user *models.User) error {
	user.Email = normalizeEmail(user.Email)
	user.UpdatedAt = now()

	update := bson.M{"$set": bson.M{
		"name":      user.Name,
		"email":     user.Email,
		"password":  user.Password,
		"role":      string(user.Role),
		"updatedAt": user.UpdatedAt,
	}}

	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": user.ID.String()}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("user already exists")
		}
		return fmt.Errorf("update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("user")
	}
	return nil
}
