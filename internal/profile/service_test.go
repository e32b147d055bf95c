package profile

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/session"
)

func newService(t *testing.T) (*Service, *gateway.MemoryStore, *gateway.MemoryBlobStore) {
	t.Helper()

	gw := gateway.NewMemoryStore()
	blobs := gateway.NewMemoryBlobStore()
	ctx := context.Background()

	users := []Profile{
		{UID: "pat-1", Email: "pat@example.com", Role: session.RolePatient, FullName: "Pat One"},
		{UID: "pat-2", Email: "sam@example.com", Role: session.RolePatient, FullName: "Sam Two"},
		{UID: "doc-1", Email: "house@example.com", Role: session.RoleDoctor, FullName: "Dr. House", RegistrationNumber: "MMC-1"},
	}
	for _, u := range users {
		require.NoError(t, gw.SetRecord(ctx, gateway.CollectionUsers, u.UID, u))
	}

	return NewService(gw, blobs, zap.NewNop()), gw, blobs
}

func validChanges() Changes {
	return Changes{
		FullName:      "Pat Updated",
		ICNumber:      "900101-01-1234",
		ContactNumber: "+60 12 345 6789",
		Email:         "pat@example.com",
	}
}

func TestGet(t *testing.T) {
	svc, _, _ := newService(t)

	p, err := svc.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. House", p.FullName)

	_, err = svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestView(t *testing.T) {
	svc, gw, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, gw.UpdateRecord(ctx, gateway.CollectionUsers, "pat-1", map[string]any{"icNumber": "900101-01-1234"}))

	pat := session.User{UID: "pat-1", Role: session.RolePatient}
	sam := session.User{UID: "pat-2", Role: session.RolePatient}
	doc := session.User{UID: "doc-1", Role: session.RoleDoctor}
	adm := session.User{UID: "adm-1", Role: session.RoleAdmin}

	own, err := svc.View(ctx, pat, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "900101-01-1234", own.ICNumber)

	_, err = svc.View(ctx, sam, "pat-1")
	assert.ErrorIs(t, err, ErrForbidden)

	for _, viewer := range []session.User{doc, adm} {
		p, err := svc.View(ctx, viewer, "pat-1")
		require.NoError(t, err)
		assert.Equal(t, "900101-01-1234", p.ICNumber)
		assert.Equal(t, "pat@example.com", p.Email)
	}

	staff, err := svc.View(ctx, pat, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. House", staff.FullName)
	assert.Equal(t, "MMC-1", staff.RegistrationNumber)
	assert.Empty(t, staff.Email)

	_, err = svc.View(ctx, doc, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newService(t)
	actor := session.User{UID: "pat-1", Role: session.RolePatient}

	p, err := svc.Update(context.Background(), actor, "pat-1", validChanges())
	require.NoError(t, err)
	assert.Equal(t, "Pat Updated", p.FullName)
	assert.Equal(t, "900101-01-1234", p.ICNumber)
	assert.Equal(t, session.RolePatient, p.Role)
}

func TestUpdate_OnlyOwner(t *testing.T) {
	svc, _, _ := newService(t)
	admin := session.User{UID: "admin-1", Role: session.RoleAdmin}

	_, err := svc.Update(context.Background(), admin, "pat-1", validChanges())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdate_RequiredFields(t *testing.T) {
	svc, _, _ := newService(t)
	actor := session.User{UID: "pat-1", Role: session.RolePatient}

	c := validChanges()
	c.ContactNumber = "   "

	_, err := svc.Update(context.Background(), actor, "pat-1", c)
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "contactNumber", ferr.Field)
}

func TestUpdate_DoctorNeedsRegistrationNumber(t *testing.T) {
	svc, _, _ := newService(t)
	actor := session.User{UID: "doc-1", Role: session.RoleDoctor}

	_, err := svc.Update(context.Background(), actor, "doc-1", validChanges())
	var ferr *FieldError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "registrationNumber", ferr.Field)

	c := validChanges()
	c.RegistrationNumber = "MMC-2"
	p, err := svc.Update(context.Background(), actor, "doc-1", c)
	require.NoError(t, err)
	assert.Equal(t, "MMC-2", p.RegistrationNumber)
}

func TestUploadPicture(t *testing.T) {
	svc, _, blobs := newService(t)
	ctx := context.Background()
	actor := session.User{UID: "pat-1", Role: session.RolePatient}

	url, err := svc.UploadPicture(ctx, actor, "pat-1", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/files/profile_pics/pat-1", url)

	p, err := svc.Get(ctx, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, url, p.ProfilePictureURL)

	rc, obj, err := blobs.Get(ctx, "profile_pics/pat-1")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", obj.ContentType)
}

func TestUploadPicture_Rejections(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	actor := session.User{UID: "pat-1", Role: session.RolePatient}

	_, err := svc.UploadPicture(ctx, actor, "pat-2", "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UploadPicture(ctx, actor, "pat-1", "application/pdf", strings.NewReader("x"))
	var ferr *FieldError
	assert.ErrorAs(t, err, &ferr)

	big := strings.NewReader(strings.Repeat("a", gateway.MaxBlobSize+1))
	_, err = svc.UploadPicture(ctx, actor, "pat-1", "image/jpeg", big)
	assert.ErrorIs(t, err, gateway.ErrBlobTooLarge)
}

func TestPatientsRoster(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	patients, err := svc.Patients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 2)
	assert.Equal(t, "pat-1", patients[0].UID)

	doctors, err := svc.Doctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 1)

	_, err = svc.Patient(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := svc.Patient(ctx, "pat-2")
	require.NoError(t, err)
	assert.Equal(t, "Sam Two", p.FullName)
}
