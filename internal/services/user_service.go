package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Medard-prog/web-whisperer-sub001/internal/apperr"
	"github.com/Medard-prog/web-whisperer-sub001/internal/auth"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/models"
	"github.com/Medard-prog/web-whisperer-sub001/internal/utils"
)

// ErrEmailExists is returned when an email is already registered.
var ErrEmailExists = fmt.Errorf("email already in use by another account: %w", apperr.ErrConflict)

// SignUpInput is what a visitor provides to open an account.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Company  string `json:"company,omitempty"`
}

// IUserService manages client and administrator accounts.
type IUserService interface {
	SignUp(ctx context.Context, in SignUpInput) (*models.User, error)
	CreateAdmin(ctx context.Context, in SignUpInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID utils.SixID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID utils.SixID, upd models.ProfileUpdate) (*models.User, error)
	SetPassword(ctx context.Context, userID utils.SixID, password string) error
	ListClients(ctx context.Context, page Page) ([]models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
}

type userService struct {
	db       *mongo.Database
	password *regexp.Regexp
}

// NewUserService builds the service. passwordPattern is the policy every new
// password must match; an empty pattern accepts 8 characters or more.
func NewUserService(database *mongo.Database, passwordPattern string) (IUserService, error) {
	if passwordPattern == "" {
		passwordPattern = "^.{8,}$"
	}
	re, err := regexp.Compile(passwordPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid password pattern: %w", err)
	}
	return &userService{db: database, password: re}, nil
}

func (s *userService) collection() *mongo.Collection {
	return s.db.Collection(db.UsersCollection)
}

func (s *userService) checkPassword(password string) error {
	if !s.password.MatchString(password) {
		return apperr.Invalid("password", "does not meet the password policy")
	}
	return nil
}

func (s *userService) SignUp(ctx context.Context, in SignUpInput) (*models.User, error) {
	return s.create(ctx, in, false)
}

// CreateAdmin opens an administrator account. Only reachable from the CLI.
func (s *userService) CreateAdmin(ctx context.Context, in SignUpInput) (*models.User, error) {
	return s.create(ctx, in, true)
}

func (s *userService) create(ctx context.Context, in SignUpInput, admin bool) (*models.User, error) {
	var errs apperr.ValidationErrors
	in.Email = models.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if !models.ValidEmail(in.Email) {
		errs = append(errs, apperr.Invalid("email", "is not a valid email address"))
	}
	if in.Name == "" {
		errs = append(errs, apperr.Invalid("name", "is required"))
	}
	if err := s.checkPassword(in.Password); err != nil {
		errs = append(errs, err.(*apperr.ValidationError))
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Backend("hash password", err)
	}
	now := time.Now().UTC()
	user := &models.User{
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		IsAdmin:      admin,
		Phone:        strings.TrimSpace(in.Phone),
		Company:      strings.TrimSpace(in.Company),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := db.InsertNew(ctx, s.collection(), user); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrEmailExists
		}
		return nil, apperr.Backend("insert user", err)
	}
	logger.Infof("User %s registered (admin=%t)", user.ID, admin)
	return user, nil
}

// Authenticate returns ErrInvalidCredentials for an unknown email and for a
// wrong password alike.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	return user, nil
}

func (s *userService) FindByID(ctx context.Context, userID utils.SixID) (*models.User, error) {
	var user models.User
	if err := s.collection().FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		return nil, lookupErr(err, "user", userID)
	}
	return &user, nil
}

func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.collection().FindOne(ctx, bson.M{"email": models.NormalizeEmail(email)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user with email %s: %w", email, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// UpdateProfile applies the non-nil fields. Email and role are not editable here.
func (s *userService) UpdateProfile(ctx context.Context, userID utils.SixID, upd models.ProfileUpdate) (*models.User, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperr.Invalid("name", "is required")
		}
		set["name"] = name
	}
	if upd.Phone != nil {
		set["phone"] = strings.TrimSpace(*upd.Phone)
	}
	if upd.Company != nil {
		set["company"] = strings.TrimSpace(*upd.Company)
	}
	if upd.Password != nil {
		if err := s.checkPassword(*upd.Password); err != nil {
			return nil, err
		}
		hash, err := auth.HashPassword(*upd.Password)
		if err != nil {
			return nil, apperr.Backend("hash password", err)
		}
		set["password"] = hash
	}

	var user models.User
	err := s.collection().FindOneAndUpdate(ctx, bson.M{"_id": userID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err != nil {
		return nil, lookupErr(err, "user", userID)
	}
	return &user, nil
}

func (s *userService) SetPassword(ctx context.Context, userID utils.SixID, password string) error {
	if err := s.checkPassword(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperr.Backend("hash password", err)
	}
	res, err := s.collection().UpdateByID(ctx, userID, bson.M{"$set": bson.M{"password": hash, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("error updating password for user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return nil
}

func (s *userService) ListClients(ctx context.Context, page Page) ([]models.User, error) {
	return s.list(ctx, bson.M{"is_admin": false}, page.findOptions().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

// ListAdmins is used to address staff notifications.
func (s *userService) ListAdmins(ctx context.Context) ([]models.User, error) {
	return s.list(ctx, bson.M{"is_admin": true}, options.Find().SetProjection(bson.M{"password": 0}))
}

func (s *userService) list(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.User, error) {
	cursor, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)
	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}
