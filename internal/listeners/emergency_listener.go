package listeners

import (
	"context"
	"time"

	"safevoice/internal/models"
	"safevoice/internal/propagation"
	"safevoice/pkg/logger"
	"safevoice/pkg/sig"
	"safevoice/pkg/sse"
	"safevoice/pkg/websocket"

	"go.uber.org/zap"
)

// InitEmergencyListeners bridges store notifications to the outward
// surfaces: tracking-link viewers get a fresh snapshot on their SSE
// group, trusted-contact consoles get the event on the fleet feed.
func InitEmergencyListeners(hub *sig.Hub, broker *propagation.Broker, sseHub *sse.Hub, wsHub *websocket.Hub) {
	hub.Connect(models.SigEmergencyTriggered, func(sender any, params ...any) {
		rec, ok := sender.(*models.EmergencyRecord)
		if !ok {
			return
		}
		go func() {
			fanoutSnapshot(broker, sseHub, rec.ID)
			wsHub.Broadcast("emergency.triggered", rec)
		}()
	})

	hub.Connect(models.SigEmergencyResolved, func(sender any, params ...any) {
		rec, ok := sender.(*models.EmergencyRecord)
		if !ok {
			return
		}
		go func() {
			fanoutSnapshot(broker, sseHub, rec.ID)
			wsHub.Broadcast("emergency.resolved", rec)
		}()
	})

	hub.Connect(models.SigLocationAppended, func(sender any, params ...any) {
		loc, ok := sender.(*models.LocationSample)
		if !ok {
			return
		}
		go func() {
			fanoutSnapshot(broker, sseHub, loc.EmergencyID)
			wsHub.Broadcast("location.updated", loc)
		}()
	})
}

func fanoutSnapshot(broker *propagation.Broker, sseHub *sse.Hub, emergencyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := broker.Snapshot(ctx, emergencyID)
	if err != nil {
		logger.Warn("snapshot for fanout failed", zap.String("emergency_id", emergencyID), zap.Error(err))
		return
	}
	sseHub.SendToGroupJSON(emergencyID, snap)
}
