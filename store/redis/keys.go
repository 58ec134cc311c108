package redis

// Key prefixes for primary entity storage.
const (
	prefixEventType    = "herald:evtype:"
	prefixSubscription = "herald:sub:"
	prefixInstallation = "herald:inst:"
	prefixRecord       = "herald:rec:"
	prefixDLQ          = "herald:dlq:"
)

// Key prefixes for unique indexes.
const (
	uniqueEventTypeName    = "herald:u:evtype:name:"
	uniqueRecordPair       = "herald:u:rec:pair:" // + subscriptionID + "/" + eventID
	uniqueInstallationPair = "herald:u:inst:pair:" // + appID + "/" + workspaceID
)

// Key prefixes for sorted set indexes.
const (
	zEventTypeAll    = "herald:z:evtype:all"
	zEventTypeGroup  = "herald:z:evtype:group:" // + group name
	zSubWorkspace    = "herald:z:sub:ws:"       // + workspace ID
	zSubInstallation = "herald:z:sub:inst:"     // + installation ID
	zInstWorkspace   = "herald:z:inst:ws:"      // + workspace ID
	zRecordDue       = "herald:z:rec:due"
	zRecordSub       = "herald:z:rec:sub:" // + subscription ID
	zRecordEvt       = "herald:z:rec:evt:" // + event ID
	zDLQAll          = "herald:z:dlq:all"
	zDLQWorkspace    = "herald:z:dlq:ws:"  // + workspace ID
	zDLQSub          = "herald:z:dlq:sub:" // + subscription ID
)

// Key prefixes for set indexes.
const (
	sRecordPending = "herald:s:rec:pending"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

// pairKey returns the unique index key for a (subscription, event) pair.
func pairKey(subID, eventID string) string {
	return uniqueRecordPair + subID + "/" + eventID
}

// installationPairKey returns the unique index key for an (app, workspace) pair.
func installationPairKey(appID, workspaceID string) string {
	return uniqueInstallationPair + appID + "/" + workspaceID
}
