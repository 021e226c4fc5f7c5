package hunt

import "time"

// GrantedInstance identifies one collectible instance handed out by a claim.
// Carrying the instance id in the event lets the consumer insert the durable
// row itself, so an instance lost on the API side is recovered on replay.
type GrantedInstance struct {
	InstanceID    string `json:"instance_id"`
	CollectibleID int64  `json:"collectible_id"`
}

// AttemptEvent is emitted once per claim request, success or failure, and
// replayed by the consumer into the durable attempt log and counter mirrors.
type AttemptEvent struct {
	UserID        string            `json:"user_id"`
	Email         string            `json:"email,omitempty"`
	Code          string            `json:"code"`
	Success       bool              `json:"success"`
	ItemID        *int64            `json:"item_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	PointsAwarded int               `json:"points_awarded,omitempty"`
	Granted       []GrantedInstance `json:"granted,omitempty"`
	Timestamp     time.Time         `json:"ts"`
}
