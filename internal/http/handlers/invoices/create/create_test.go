package create

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/vpn-shop/internal/http/handlers/handlertest"
	"github.com/magabrotheeeer/vpn-shop/internal/models"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateInvoice(ctx context.Context, userID int64, months int) (*models.Invoice, error) {
	args := m.Called(ctx, userID, months)
	if res := args.Get(0); res != nil {
		return res.(*models.Invoice), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestCreateInvoiceHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "created",
			body: `{"months":3}`,
			setupMock: func(m *MockService) {
				m.On("CreateInvoice", mock.Anything, int64(100), 3).Return(&models.Invoice{
					InvoiceID: "555", UserID: 100, Months: 3, Amount: 249, PayURL: "https://t.me/CryptoBot?start=IV555", Status: models.InvoicePending,
				}, nil).Once()
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"pay_url":"https://t.me/CryptoBot?start=IV555"`,
		},
		{
			name: "unknown tariff",
			body: `{"months":7}`,
			setupMock: func(m *MockService) {
				m.On("CreateInvoice", mock.Anything, int64(100), 7).Return(nil, models.ErrUnknownTariff).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   "unknown tariff",
		},
		{
			name: "provider failure",
			body: `{"months":1}`,
			setupMock: func(m *MockService) {
				m.On("CreateInvoice", mock.Anything, int64(100), 1).Return(nil, errors.New("api error 401: UNAUTHORIZED")).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   "internal error",
		},
		{
			name:           "zero months",
			body:           `{"months":0}`,
			setupMock:      func(_ *MockService) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   "field Months is a required field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMock(svc)

			rec := handlertest.Serve(New(handlertest.NoopLogger(), svc), http.MethodPost, "/users/{id}/invoices", "/users/100/invoices", tt.body)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}
