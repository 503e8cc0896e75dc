package ticket

import "github.com/prasetyautama/park-entry-booking/internal/model"

// QRImageRenderer renders the ticket attachment for confirmation mail
// as the same QR image the gate scanners read.
type QRImageRenderer struct{}

// Render returns the ticket's sealed payload as a PNG QR code.  A
// ticket whose payload has not been finalized yet renders nothing.
func (QRImageRenderer) Render(_ *model.Booking, t *model.Ticket) ([]byte, error) {
	if t == nil || len(t.Payload) == 0 {
		return nil, nil
	}
	return RenderQR(t.Payload)
}
