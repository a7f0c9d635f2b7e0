package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/opensource-finance/returnguard/internal/domain"
)

// Confirmation is the content of a return confirmation email.
type Confirmation struct {
	To             string
	OrderNumber    string
	Status         domain.ReturnStatus
	RefundAmount   domain.Money
	LabelURL       string
	TrackingNumber string
}

// NewConfirmation builds the confirmation for a labeled request.
func NewConfirmation(order *domain.Order, req *domain.ReturnRequest) Confirmation {
	c := Confirmation{
		To:             req.NotifyEmail(),
		Status:         req.Status,
		RefundAmount:   req.RefundAmount,
		LabelURL:       req.ShippingLabelURL,
		TrackingNumber: req.TrackingNumber,
	}
	if order != nil {
		c.OrderNumber = order.OrderNumber
	}
	return c
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<h1>Return Confirmed</h1>
<p>We have received your return request for Order #{{.OrderNumber}}.</p>
<p><strong>Status:</strong> {{.Status}}</p>
<p><strong>Refund Amount:</strong> {{.RefundAmount}}</p>

<h2>Shipping Label</h2>
<p>Please download your shipping label below and attach it to your package:</p>
<p><a href="{{.LabelURL}}" style="background-color: #6366f1; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Download Shipping Label</a></p>

<p>Or open this link: {{.LabelURL}}</p>

<p>Tracking Number: {{.TrackingNumber}}</p>

<p>Thank you,<br>The Returns Team</p>
`))

func buildConfirmationContent(c Confirmation) (string, string, error) {
	subject := fmt.Sprintf("Return Confirmation - Order #%s", c.OrderNumber)

	var body bytes.Buffer
	if err := confirmationTemplate.Execute(&body, c); err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}
	return subject, body.String(), nil
}
