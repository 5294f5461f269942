package equations

import "math"

// Physical constants, SI units (CODATA 2018 / IAU nominal values).
const (
	GravitationalConstant = 6.67430e-11 // m^3 kg^-1 s^-2
	SpeedOfLight          = 299792458.0 // m/s
	PlanckConstant        = 6.62607015e-34
	BoltzmannConstant     = 1.380649e-23
	StefanBoltzmann       = 5.670374419e-8 // W m^-2 K^-4

	SolarMass       = 1.989e30  // kg
	SolarRadius     = 6.957e8   // m
	SolarLuminosity = 3.828e26  // W
	EarthMass       = 5.9722e24 // kg
	EarthRadius     = 6.371e6   // m

	AstronomicalUnit = 1.495978707e11         // m
	Parsec           = 3.0856775814913673e16 // m
	Kiloparsec       = 1e3 * Parsec
	Megaparsec       = 1e6 * Parsec
)

// Unit conversions.
const (
	secondsPerDay   = 86400.0
	secondsPerHour  = 3600.0
	secondsPerGyr   = 3.15576e16
	arcsecPerRadian = 648000.0 / math.Pi
	degreesOfRadian = 180.0 / math.Pi
)
