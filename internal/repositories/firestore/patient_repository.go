package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/alegny-health/api/internal/domain"
	pfirestore "github.com/alegny-health/api/internal/platform/firestore"
	"github.com/alegny-health/api/internal/repositories"
)

// PatientRepository reads patient profiles written by the patient-management service.
type PatientRepository struct {
	base *pfirestore.BaseRepository[patientDocument]
}

var _ repositories.PatientRepository = (*PatientRepository)(nil)

func NewPatientRepository(provider *pfirestore.Provider) (*PatientRepository, error) {
	if provider == nil {
		return nil, errors.New("patient repository requires firestore provider")
	}
	return &PatientRepository{
		base: pfirestore.NewBaseRepository[patientDocument](provider, patientsCollection, nil, nil),
	}, nil
}

func (r *PatientRepository) FindByID(ctx context.Context, patientID string) (domain.Patient, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(patientID))
	if err != nil {
		return domain.Patient{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
