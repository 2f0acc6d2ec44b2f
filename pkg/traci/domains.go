package traci

import (
	"fmt"
	"strconv"
)

// Stage is the result of a path query.
type Stage struct {
	Type        int32
	VType       string
	Line        string
	DestStop    string
	Edges       []string
	TravelTime  float64
	Cost        float64
	Length      float64
	Intended    string
	Depart      float64
	DepartPos   float64
	ArrivalPos  float64
	Description string
}

// Simulation domain.

func (c *Conn) SimulationTime() (float64, error) {
	return c.GetDouble(CmdGetSimVariable, VarTime, "")
}

func (c *Conn) MinExpectedNumber() (int32, error) {
	return c.GetInt(CmdGetSimVariable, VarMinExpectedVehicles, "")
}

func (c *Conn) LoadedIDList() ([]string, error) {
	return c.GetStringList(CmdGetSimVariable, VarLoadedVehiclesIDs, "")
}

func (c *Conn) DepartedIDList() ([]string, error) {
	return c.GetStringList(CmdGetSimVariable, VarDepartedVehiclesIDs, "")
}

// FindRoute asks the engine for the fastest path between two edges.
func (c *Conn) FindRoute(from, to, vType string, depart float64, routingMode int32) (Stage, error) {
	r, err := c.Get(CmdGetSimVariable, VarFindRoute, "", func(s *Storage) {
		s.WriteCompound(5)
		s.WriteTypedString(from)
		s.WriteTypedString(to)
		s.WriteTypedString(vType)
		s.WriteTypedDouble(depart)
		s.WriteTypedInt32(routingMode)
	})
	if err != nil {
		return Stage{}, err
	}
	return readStage(r)
}

func readStage(r *Reader) (Stage, error) {
	var st Stage
	n, err := r.ReadCompound()
	if err != nil {
		return st, err
	}
	if n < 13 {
		return st, &ProtocolError{Msg: fmt.Sprintf("stage compound with %d items", n)}
	}
	steps := []func() error{
		func() (err error) { st.Type, err = r.ReadTypedInt32(); return },
		func() (err error) { st.VType, err = r.ReadTypedString(); return },
		func() (err error) { st.Line, err = r.ReadTypedString(); return },
		func() (err error) { st.DestStop, err = r.ReadTypedString(); return },
		func() (err error) { st.Edges, err = r.ReadTypedStringList(); return },
		func() (err error) { st.TravelTime, err = r.ReadTypedDouble(); return },
		func() (err error) { st.Cost, err = r.ReadTypedDouble(); return },
		func() (err error) { st.Length, err = r.ReadTypedDouble(); return },
		func() (err error) { st.Intended, err = r.ReadTypedString(); return },
		func() (err error) { st.Depart, err = r.ReadTypedDouble(); return },
		func() (err error) { st.DepartPos, err = r.ReadTypedDouble(); return },
		func() (err error) { st.ArrivalPos, err = r.ReadTypedDouble(); return },
		func() (err error) { st.Description, err = r.ReadTypedString(); return },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Edge and lane domains.

func (c *Conn) EdgeIDList() ([]string, error) {
	return c.GetStringList(CmdGetEdgeVariable, VarIDList, "")
}

func (c *Conn) EdgeLaneNumber(edgeID string) (int32, error) {
	return c.GetInt(CmdGetEdgeVariable, VarLaneIndex, edgeID)
}

func (c *Conn) LaneAllowed(laneID string) ([]string, error) {
	return c.GetStringList(CmdGetLaneVariable, VarLaneAllowed, laneID)
}

func (c *Conn) LaneLength(laneID string) (float64, error) {
	return c.GetDouble(CmdGetLaneVariable, VarLength, laneID)
}

// Route domain.

func (c *Conn) RouteIDList() ([]string, error) {
	return c.GetStringList(CmdGetRouteVariable, VarIDList, "")
}

func (c *Conn) RouteEdges(routeID string) ([]string, error) {
	return c.GetStringList(CmdGetRouteVariable, VarEdges, routeID)
}

func (c *Conn) RouteAdd(routeID string, edges []string) error {
	return c.Set(CmdSetRouteVariable, VarAdd, routeID, func(s *Storage) {
		s.WriteTypedStringList(edges)
	})
}

// Vehicle domain.

func (c *Conn) VehicleIDList() ([]string, error) {
	return c.GetStringList(CmdGetVehicleVariable, VarIDList, "")
}

func (c *Conn) VehicleRoadID(vehID string) (string, error) {
	return c.GetString(CmdGetVehicleVariable, VarRoadID, vehID)
}

func (c *Conn) VehicleRouteID(vehID string) (string, error) {
	return c.GetString(CmdGetVehicleVariable, VarRouteID, vehID)
}

func (c *Conn) VehicleRoute(vehID string) ([]string, error) {
	return c.GetStringList(CmdGetVehicleVariable, VarEdges, vehID)
}

func (c *Conn) VehicleTypeID(vehID string) (string, error) {
	return c.GetString(CmdGetVehicleVariable, VarType, vehID)
}

func (c *Conn) VehicleEmissionClass(vehID string) (string, error) {
	return c.GetString(CmdGetVehicleVariable, VarEmissionClass, vehID)
}

func (c *Conn) VehicleSpeed(vehID string) (float64, error) {
	return c.GetDouble(CmdGetVehicleVariable, VarSpeed, vehID)
}

// VehiclePosition returns the network coordinates of the vehicle front.
func (c *Conn) VehiclePosition(vehID string) (x, y float64, err error) {
	r, err := c.Get(CmdGetVehicleVariable, VarPosition, vehID, nil)
	if err != nil {
		return 0, 0, err
	}
	if err := r.ExpectType(TypePosition2D); err != nil {
		return 0, 0, err
	}
	if x, err = r.ReadDouble(); err != nil {
		return 0, 0, err
	}
	if y, err = r.ReadDouble(); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func (c *Conn) VehicleDistance(vehID string) (float64, error) {
	return c.GetDouble(CmdGetVehicleVariable, VarDistance, vehID)
}

func (c *Conn) VehicleElectricityConsumption(vehID string) (float64, error) {
	return c.GetDouble(CmdGetVehicleVariable, VarElectricityConsumption, vehID)
}

// VehicleDrivingDistance returns the road distance from the vehicle to
// position pos on lane 0 of edgeID.
func (c *Conn) VehicleDrivingDistance(vehID, edgeID string, pos float64) (float64, error) {
	r, err := c.Get(CmdGetVehicleVariable, VarDistanceRequest, vehID, func(s *Storage) {
		s.WriteCompound(2)
		s.WriteUint8(TypePositionRoadmap)
		s.WriteString(edgeID)
		s.WriteDouble(pos)
		s.WriteUint8(0)
		s.WriteUint8(RequestDrivingDist)
	})
	if err != nil {
		return 0, err
	}
	return r.ReadTypedDouble()
}

func (c *Conn) VehicleParameter(vehID, key string) (string, error) {
	r, err := c.Get(CmdGetVehicleVariable, VarParameter, vehID, func(s *Storage) {
		s.WriteTypedString(key)
	})
	if err != nil {
		return "", err
	}
	return r.ReadTypedString()
}

func (c *Conn) VehicleSetParameter(vehID, key, value string) error {
	return c.Set(CmdSetVehicleVariable, VarParameter, vehID, func(s *Storage) {
		s.WriteCompound(2)
		s.WriteTypedString(key)
		s.WriteTypedString(value)
	})
}

// VehicleAdd inserts a vehicle on a registered route departing at depart
// seconds, using the engine defaults for the remaining insertion fields.
func (c *Conn) VehicleAdd(vehID, routeID, typeID string, depart float64) error {
	fields := []string{
		routeID, typeID, strconv.FormatFloat(depart, 'f', -1, 64),
		"first", "base", "0", "current", "max", "current", "", "", "",
	}
	return c.Set(CmdSetVehicleVariable, VarAddFull, vehID, func(s *Storage) {
		s.WriteCompound(14)
		for _, f := range fields {
			s.WriteTypedString(f)
		}
		s.WriteTypedInt32(0)
		s.WriteTypedInt32(0)
	})
}

func (c *Conn) VehicleSetColor(vehID string, color Color) error {
	return c.Set(CmdSetVehicleVariable, VarColor, vehID, func(s *Storage) {
		s.WriteColor(color)
	})
}

func (c *Conn) VehicleChangeTarget(vehID, edgeID string) error {
	return c.Set(CmdSetVehicleVariable, VarChangeTarget, vehID, func(s *Storage) {
		s.WriteTypedString(edgeID)
	})
}

// VehicleSetStop schedules a stop at a stopping place. flags selects the
// stopping place kind (StopBusStop, StopParkingArea, StopChargingStation)
// combined with behavior flags such as StopParking.
func (c *Conn) VehicleSetStop(vehID, stopID string, duration float64, flags int32) error {
	return c.Set(CmdSetVehicleVariable, VarStop, vehID, func(s *Storage) {
		s.WriteCompound(7)
		s.WriteTypedString(stopID)
		s.WriteTypedDouble(1.0)
		s.WriteTypedInt8(0)
		s.WriteTypedDouble(duration)
		s.WriteTypedInt32(flags)
		s.WriteTypedDouble(InvalidDouble)
		s.WriteTypedDouble(InvalidDouble)
	})
}

// Stopping place domains. domain is one of CmdGetBusStopVariable,
// CmdGetParkingAreaVariable or CmdGetChargingStationVariable.

func (c *Conn) StopIDList(domain uint8) ([]string, error) {
	return c.GetStringList(domain, VarIDList, "")
}

func (c *Conn) StopLaneID(domain uint8, stopID string) (string, error) {
	return c.GetString(domain, VarLaneID, stopID)
}

func (c *Conn) StopVehicleIDs(domain uint8, stopID string) ([]string, error) {
	return c.GetStringList(domain, VarLastStepVehicleIDList, stopID)
}
