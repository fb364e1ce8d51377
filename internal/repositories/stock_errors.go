package repositories

import "fmt"

// StockErrorCode names which side of a stock transaction failed.
type StockErrorCode string

const (
	// StockErrorDrugNotFound indicates the catalog has no drug with the requested name.
	StockErrorDrugNotFound StockErrorCode = "stock_drug_not_found"
	// StockErrorPharmacyNotFound indicates the pharmacy record is missing.
	StockErrorPharmacyNotFound StockErrorCode = "stock_pharmacy_not_found"
)

// StockError reports a missing record inside a stock transaction. It satisfies RepositoryError
// as a not-found failure.
type StockError struct {
	Op   string
	Code StockErrorCode
	Key  string
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: %s %q", e.Op, e.Code, e.Key)
}

func (e *StockError) IsNotFound() bool    { return true }
func (e *StockError) IsConflict() bool    { return false }
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError builds a StockError for key.
func NewStockError(op string, code StockErrorCode, key string) *StockError {
	return &StockError{Op: op, Code: code, Key: key}
}
