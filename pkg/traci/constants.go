package traci

// Data type tags.
const (
	TypePosition2D      uint8 = 0x01
	TypePositionRoadmap uint8 = 0x04
	TypeUbyte           uint8 = 0x07
	TypeByte            uint8 = 0x08
	TypeInteger         uint8 = 0x09
	TypeDouble          uint8 = 0x0B
	TypeString          uint8 = 0x0C
	TypeStringList      uint8 = 0x0E
	TypeCompound        uint8 = 0x0F
	TypeColor           uint8 = 0x11
)

// Result codes of a status response.
const (
	ResultOK             uint8 = 0x00
	ResultNotImplemented uint8 = 0x01
	ResultError          uint8 = 0xFF
)

// Control commands.
const (
	CmdGetVersion uint8 = 0x00
	CmdSimStep    uint8 = 0x02
	CmdClose      uint8 = 0x7F
)

// Variable retrieval commands per domain. The response id of a get command
// is the command id plus ResponseOffset.
const (
	CmdGetParkingAreaVariable     uint8 = 0x04
	CmdGetChargingStationVariable uint8 = 0x05
	CmdGetBusStopVariable         uint8 = 0x1f
	CmdGetLaneVariable            uint8 = 0xa3
	CmdGetVehicleVariable         uint8 = 0xa4
	CmdGetRouteVariable           uint8 = 0xa6
	CmdGetEdgeVariable            uint8 = 0xaa
	CmdGetSimVariable             uint8 = 0xab

	ResponseOffset uint8 = 0x10
)

// State change commands per domain.
const (
	CmdSetVehicleVariable uint8 = 0xc4
	CmdSetRouteVariable   uint8 = 0xc6
)

// Variable ids.
const (
	VarIDList                 uint8 = 0x00
	VarStop                   uint8 = 0x12
	VarLastStepVehicleIDList  uint8 = 0x12
	VarChangeTarget           uint8 = 0x31
	VarLaneAllowed            uint8 = 0x34
	VarSpeed                  uint8 = 0x40
	VarPosition               uint8 = 0x42
	VarLength                 uint8 = 0x44
	VarColor                  uint8 = 0x45
	VarEmissionClass          uint8 = 0x4a
	VarType                   uint8 = 0x4f
	VarRoadID                 uint8 = 0x50
	VarLaneID                 uint8 = 0x51
	VarLaneIndex              uint8 = 0x52
	VarRouteID                uint8 = 0x53
	VarEdges                  uint8 = 0x54
	VarTime                   uint8 = 0x66
	VarElectricityConsumption uint8 = 0x71
	VarLoadedVehiclesIDs      uint8 = 0x72
	VarDepartedVehiclesIDs    uint8 = 0x74
	VarMinExpectedVehicles    uint8 = 0x7d
	VarParameter              uint8 = 0x7e
	VarAdd                    uint8 = 0x80
	VarDistanceRequest        uint8 = 0x83
	VarDistance               uint8 = 0x84
	VarAddFull                uint8 = 0x85
	VarFindRoute              uint8 = 0x86
)

// RequestDrivingDist selects road distance (as opposed to air distance)
// in a distance request.
const RequestDrivingDist uint8 = 0x01

// Stop flags.
const (
	StopDefault         int32 = 0x00
	StopParking         int32 = 0x01
	StopBusStop         int32 = 0x08
	StopChargingStation int32 = 0x20
	StopParkingArea     int32 = 0x40
)

// InvalidDouble is the engine's marker for "no value".
const InvalidDouble = -1073741824.0
