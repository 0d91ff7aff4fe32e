package email

const (
	subjectDeliveryAlertFmt = "Delivery %s failed permanently"
	subjectLeadHandoffFmt   = "New qualified lead: %s"
)
