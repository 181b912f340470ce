// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// validator for PathAttribute flags
func ValidateFlags(t BGPAttrType, flags uint8) (bool, string) {

	/*
	 * RFC 4271 P.17 For well-known attributes, the Transitive bit MUST be set to 1.
	 */
	if flags&BGP_ATTR_FLAG_OPTIONAL == 0 && flags&BGP_ATTR_FLAG_TRANSITIVE == 0 {
		eMsg := "well-known attribute must have transitive flag 1"
		return false, eMsg
	}
	/*
	 * RFC 4271 P.17 For well-known attributes and for optional non-transitive attributes,
	 * the Partial bit MUST be set to 0.
	 */
	if flags&BGP_ATTR_FLAG_OPTIONAL == 0 && flags&BGP_ATTR_FLAG_PARTIAL != 0 {
		eMsg := "well-known attribute must have partial bit 0"
		return false, eMsg
	}
	if flags&BGP_ATTR_FLAG_OPTIONAL != 0 && flags&BGP_ATTR_FLAG_TRANSITIVE == 0 && flags&BGP_ATTR_FLAG_PARTIAL != 0 {
		eMsg := "optional non-transitive attribute must have partial bit 0"
		return false, eMsg
	}

	if f, ok := pathAttrFlags[t]; ok {
		if f != flags & ^uint8(BGP_ATTR_FLAG_EXTENDED_LENGTH) & ^uint8(BGP_ATTR_FLAG_PARTIAL) {
			eMsg := "flags are invalid. attribute type : " + strconv.Itoa(int(t))
			return false, eMsg
		}
	}
	return true, ""
}

var allOnesMarker = bytes.Repeat([]byte{0xff}, 16)

// ValidateHeader checks marker, length and type, in that order. The
// marker is only checked against the synchronization pattern on OPEN;
// once a session carries no authentication every later marker is
// all-ones by definition.
func ValidateHeader(h *BGPHeader) error {
	if h.Type == BGP_MSG_OPEN && h.Marker != nil && !bytes.Equal(h.Marker, allOnesMarker) {
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_CONNECTION_NOT_SYNCHRONIZED, nil, "marker is not synchronized")
	}

	badLen := func() error {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, h.Len)
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_LENGTH, buf, fmt.Sprintf("unacceptable message length %d", h.Len))
	}
	if h.Len < BGP_HEADER_LENGTH || h.Len > BGP_MAX_MESSAGE_LENGTH {
		return badLen()
	}
	switch h.Type {
	case BGP_MSG_OPEN:
		if h.Len < BGP_OPEN_MIN_LENGTH {
			return badLen()
		}
	case BGP_MSG_UPDATE:
		if h.Len < BGP_UPDATE_MIN_LENGTH {
			return badLen()
		}
	case BGP_MSG_NOTIFICATION:
		if h.Len < BGP_NOTIFICATION_MIN_LENGTH {
			return badLen()
		}
	case BGP_MSG_KEEPALIVE:
		if h.Len != BGP_HEADER_LENGTH {
			return badLen()
		}
	default:
		return NewMessageError(BGP_ERROR_MESSAGE_HEADER_ERROR, BGP_ERROR_SUB_BAD_MESSAGE_TYPE, []byte{h.Type}, fmt.Sprintf("unknown message type %d", h.Type))
	}
	return nil
}

// ValidateOpenMsg checks version, peer AS, hold time, BGP identifier
// and optional parameters, in that order. An authentication parameter
// is accepted without verification; any other optional parameter is
// rejected.
func ValidateOpenMsg(m *BGPOpen, expectedAS uint16, expectedID net.IP) error {
	if m.Version != 4 {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, 4)
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_VERSION_NUMBER, buf, fmt.Sprintf("unsupported version %d", m.Version))
	}
	if m.MyAS != expectedAS {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_BAD_PEER_AS, nil, fmt.Sprintf("as number mismatch expected %d, received %d", expectedAS, m.MyAS))
	}
	if m.HoldTime < 3 && m.HoldTime != 0 {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, m.HoldTime)
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNACCEPTABLE_HOLD_TIME, buf, fmt.Sprintf("unacceptable hold time %d", m.HoldTime))
	}
	if expectedID != nil && !m.ID.Equal(expectedID) {
		return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_BAD_BGP_IDENTIFIER, m.ID.To4(), fmt.Sprintf("bgp identifier mismatch expected %s, received %s", expectedID, m.ID))
	}
	for _, p := range m.OptParams {
		switch p.(type) {
		case *OptionParameterAuth:
			// TODO: verify the authentication data. For now the
			// parameter is carried but never checked.
		default:
			data, _ := p.Serialize()
			return NewMessageError(BGP_ERROR_OPEN_MESSAGE_ERROR, BGP_ERROR_SUB_UNSUPPORTED_OPTIONAL_PARAMETER, data, "unsupported optional parameter")
		}
	}
	return nil
}

func validateAsPath(p *PathAttributeAsPath, localAS uint16) error {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	for _, param := range p.Value {
		if param.Type != BGP_ASPATH_ATTR_TYPE_SET && param.Type != BGP_ASPATH_ATTR_TYPE_SEQ {
			return NewMessageError(eCode, BGP_ERROR_SUB_MALFORMED_AS_PATH, nil, fmt.Sprintf("unknown AS_PATH segment type %d", param.Type))
		}
		for _, as := range param.AS {
			if as == localAS {
				return NewMessageError(eCode, BGP_ERROR_SUB_ROUTING_LOOP, nil, fmt.Sprintf("own AS %d found in AS_PATH", as))
			}
		}
	}
	return nil
}

func validateAttribute(a PathAttributeInterface, localAS uint16) error {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)

	switch p := a.(type) {
	case *PathAttributeOrigin:
		v := p.PathAttribute.Value[0]
		if v != BGP_ORIGIN_ATTR_TYPE_IGP &&
			v != BGP_ORIGIN_ATTR_TYPE_EGP &&
			v != BGP_ORIGIN_ATTR_TYPE_INCOMPLETE {
			data, _ := a.Serialize()
			return NewMessageError(eCode, BGP_ERROR_SUB_INVALID_ORIGIN_ATTRIBUTE, data, "invalid origin attribute. value : "+strconv.Itoa(int(v)))
		}
	case *PathAttributeAsPath:
		if err := validateAsPath(p, localAS); err != nil {
			return err
		}
	case *PathAttributeNextHop:
		isZero := func(ip net.IP) bool {
			return ip[0] == 0x00
		}
		if p.Value.IsLoopback() || isZero(p.Value) {
			data, _ := a.Serialize()
			return NewMessageError(eCode, BGP_ERROR_SUB_INVALID_NEXT_HOP_ATTRIBUTE, data, "invalid nexthop address")
		}
	case *PathAttributeUnknown:
		if p.GetFlags()&BGP_ATTR_FLAG_OPTIONAL == 0 {
			data, _ := a.Serialize()
			return NewMessageError(eCode, BGP_ERROR_SUB_UNRECOGNIZED_WELL_KNOWN_ATTRIBUTE, data, fmt.Sprintf("unrecognized well-known attribute %d", p.GetType()))
		}
	}
	return nil
}

// ValidateUpdateMsg checks each path attribute, detects duplicates and
// verifies the presence of well-known mandatory attributes. ibgp
// additionally makes LOCAL_PREF mandatory.
func ValidateUpdateMsg(m *BGPUpdate, localAS uint16, ibgp bool) error {
	eCode := uint8(BGP_ERROR_UPDATE_MESSAGE_ERROR)
	eSubCodeAttrList := uint8(BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST)
	eSubCodeMissing := uint8(BGP_ERROR_SUB_MISSING_WELL_KNOWN_ATTRIBUTE)

	seen := make(map[BGPAttrType]PathAttributeInterface)
	for _, a := range m.PathAttributes {
		// check duplication
		if _, ok := seen[a.GetType()]; !ok {
			seen[a.GetType()] = a
		} else {
			eMsg := "the path attribute appears twice. Type : " + strconv.Itoa(int(a.GetType()))
			return NewMessageError(eCode, eSubCodeAttrList, nil, eMsg)
		}

		if err := validateAttribute(a, localAS); err != nil {
			return err
		}
	}

	if len(m.NLRI) > 0 {
		mandatory := []BGPAttrType{BGP_ATTR_TYPE_ORIGIN, BGP_ATTR_TYPE_AS_PATH, BGP_ATTR_TYPE_NEXT_HOP}
		if ibgp {
			mandatory = append(mandatory, BGP_ATTR_TYPE_LOCAL_PREF)
		}
		for _, t := range mandatory {
			if _, ok := seen[t]; !ok {
				eMsg := "well-known mandatory attributes are not present. type : " + strconv.Itoa(int(t))
				return NewMessageError(eCode, eSubCodeMissing, []byte{byte(t)}, eMsg)
			}
		}
	}
	return nil
}

// ValidateUpdateLength rejects UPDATEs whose declared withdrawn-routes
// and path-attribute lengths cannot fit in the message.
func ValidateUpdateLength(h *BGPHeader, m *BGPUpdate) error {
	if BGP_UPDATE_MIN_LENGTH+int(m.WithdrawnRoutesLen)+int(m.TotalPathAttributeLen) > int(h.Len) {
		return NewMessageError(BGP_ERROR_UPDATE_MESSAGE_ERROR, BGP_ERROR_SUB_MALFORMED_ATTRIBUTE_LIST, nil, "update length inconsistent with message length")
	}
	return nil
}

func ValidateBGPMessage(m *BGPMessage) error {
	return ValidateHeader(&m.Header)
}
