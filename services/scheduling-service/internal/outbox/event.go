package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one topic per event type).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling engine. Downstream consumers
// (notifications, the WhatsApp agent, analytics) subscribe to these topics.
const (
	EventAppointmentCreated     = "scheduling.appointment.created.v1"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	EventAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
)
