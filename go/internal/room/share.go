package room

import (
	"fmt"
	"strings"

	"github.com/mcdev12/estimate/go/internal/models"
)

// ShareText is the invitation a participant copies to bring others into the room.
func ShareText(baseURL string, r *models.Room) string {
	link := strings.TrimRight(baseURL, "/") + "/room/" + r.ID
	return fmt.Sprintf("Join my Esti-Mate room!\nCode: %s\nLink: %s", r.Code, link)
}
