package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/QASchoolUSA/quic-rtc/internal/idgen"
)

type createRoomResponse struct {
	RoomID string `json:"roomId"`
}

// createRoom mints a room identifier for clients that want one before any
// session joins. The room itself is created lazily by the first join-room.
func createRoom(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idgen.NewRoomID()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(createRoomResponse{RoomID: id}); err != nil {
			logger.Error("encode room id", "err", err)
		}
	}
}
