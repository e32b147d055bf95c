// Package profile manages the user profiles stored in the users collection:
// reading and editing them, profile pictures, and the patient roster used
// when doctors and admins book on a patient's behalf.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/session"
)

const pictureKeyPrefix = "profile_pics/"

var (
	ErrNotFound  = errors.New("profile not found")
	ErrForbidden = errors.New("not allowed to access this profile")
)

// FieldError rejects a profile change before anything is written.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

type Profile struct {
	UID                string       `json:"uid"`
	Email              string       `json:"email"`
	Role               session.Role `json:"role"`
	FullName           string       `json:"fullName"`
	ICNumber           string       `json:"icNumber,omitempty"`
	ContactNumber      string       `json:"contactNumber,omitempty"`
	RegistrationNumber string       `json:"registrationNumber,omitempty"`
	ProfilePictureURL  string       `json:"profilePictureUrl,omitempty"`
}

// Changes is the editable part of a profile.
type Changes struct {
	FullName           string `json:"fullName"`
	ICNumber           string `json:"icNumber"`
	ContactNumber      string `json:"contactNumber"`
	Email              string `json:"email"`
	RegistrationNumber string `json:"registrationNumber"`
}

type Service struct {
	gw     gateway.Gateway
	blobs  gateway.BlobStore
	logger *zap.Logger
}

func NewService(gw gateway.Gateway, blobs gateway.BlobStore, logger *zap.Logger) *Service {
	return &Service{gw: gw, blobs: blobs, logger: logger}
}

func decodeProfile(doc gateway.Document) (Profile, error) {
	var p Profile
	if err := doc.Decode(&p); err != nil {
		return Profile{}, err
	}
	if p.UID == "" {
		p.UID = doc.ID
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, uid string) (Profile, error) {
	doc, err := s.gw.GetRecord(ctx, gateway.CollectionUsers, uid)
	if errors.Is(err, gateway.ErrNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", uid, err)
	}
	return decodeProfile(*doc)
}

// public keeps what any signed-in user may see of a doctor or admin.
func (p Profile) public() Profile {
	return Profile{
		UID:                p.UID,
		Role:               p.Role,
		FullName:           p.FullName,
		RegistrationNumber: p.RegistrationNumber,
		ProfilePictureURL:  p.ProfilePictureURL,
	}
}

// View returns uid's profile as actor may see it. Owners and admins see
// everything and doctors see patients in full. Staff profiles are shown to
// everyone else without contact details; other patients are off limits.
func (s *Service) View(ctx context.Context, actor session.User, uid string) (Profile, error) {
	p, err := s.Get(ctx, uid)
	if err != nil {
		return Profile{}, err
	}

	switch {
	case actor.UID == uid, actor.IsAdmin():
		return p, nil
	case p.Role == session.RolePatient:
		if actor.IsDoctor() {
			return p, nil
		}
		return Profile{}, ErrForbidden
	default:
		return p.public(), nil
	}
}

// Update applies changes to the actor's own profile. Every contact field is
// required; doctors also need a registration number.
func (s *Service) Update(ctx context.Context, actor session.User, uid string, c Changes) (Profile, error) {
	if actor.UID != uid {
		return Profile{}, ErrForbidden
	}

	current, err := s.Get(ctx, uid)
	if err != nil {
		return Profile{}, err
	}

	c = Changes{
		FullName:           strings.TrimSpace(c.FullName),
		ICNumber:           strings.TrimSpace(c.ICNumber),
		ContactNumber:      strings.TrimSpace(c.ContactNumber),
		Email:              strings.TrimSpace(c.Email),
		RegistrationNumber: strings.TrimSpace(c.RegistrationNumber),
	}

	required := []struct{ field, value string }{
		{"fullName", c.FullName},
		{"icNumber", c.ICNumber},
		{"contactNumber", c.ContactNumber},
		{"email", c.Email},
	}
	for _, r := range required {
		if r.value == "" {
			return Profile{}, &FieldError{Field: r.field, Message: "is required"}
		}
	}
	if current.Role == session.RoleDoctor && c.RegistrationNumber == "" {
		return Profile{}, &FieldError{Field: "registrationNumber", Message: "is required for doctors"}
	}

	patch := map[string]any{
		"fullName":      c.FullName,
		"icNumber":      c.ICNumber,
		"contactNumber": c.ContactNumber,
		"email":         c.Email,
	}
	if current.Role == session.RoleDoctor {
		patch["registrationNumber"] = c.RegistrationNumber
	}

	if err := s.gw.UpdateRecord(ctx, gateway.CollectionUsers, uid, patch); err != nil {
		return Profile{}, fmt.Errorf("update profile %s: %w", uid, err)
	}

	s.logger.Info("profile updated", zap.String("uid", uid))
	return s.Get(ctx, uid)
}

// PictureURL is where a stored profile picture is served from.
func PictureURL(uid string) string {
	return "/files/" + pictureKeyPrefix + uid
}

// UploadPicture stores an image as the actor's profile picture and records
// its URL on the profile.
func (s *Service) UploadPicture(ctx context.Context, actor session.User, uid, contentType string, content io.Reader) (string, error) {
	if actor.UID != uid {
		return "", ErrForbidden
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", &FieldError{Field: "picture", Message: "must be an image"}
	}

	if _, err := s.blobs.Put(ctx, pictureKeyPrefix+uid, contentType, content); err != nil {
		return "", fmt.Errorf("store profile picture: %w", err)
	}

	url := PictureURL(uid)
	err := s.gw.UpdateRecord(ctx, gateway.CollectionUsers, uid, map[string]any{"profilePictureUrl": url})
	if errors.Is(err, gateway.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("record profile picture: %w", err)
	}
	return url, nil
}

func (s *Service) byRole(ctx context.Context, role session.Role) ([]Profile, error) {
	docs, err := s.gw.ListRecords(ctx, gateway.CollectionUsers, gateway.Where("role", string(role)))
	if err != nil {
		return nil, fmt.Errorf("list %s profiles: %w", role, err)
	}

	out := make([]Profile, 0, len(docs))
	for _, doc := range docs {
		p, err := decodeProfile(doc)
		if err != nil {
			s.logger.Warn("skipping malformed profile", zap.String("uid", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Patients is the roster doctors and admins pick from.
func (s *Service) Patients(ctx context.Context) ([]Profile, error) {
	return s.byRole(ctx, session.RolePatient)
}

func (s *Service) Doctors(ctx context.Context) ([]Profile, error) {
	return s.byRole(ctx, session.RoleDoctor)
}

// Patient returns the profile of uid when it belongs to a patient.
func (s *Service) Patient(ctx context.Context, uid string) (Profile, error) {
	p, err := s.Get(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	if p.Role != session.RolePatient {
		return Profile{}, ErrNotFound
	}
	return p, nil
}
